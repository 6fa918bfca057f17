package phase

import (
	"context"
	"sync"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

type mockSource struct {
	events   []*domain.Advertisement
	onDrain  context.CancelFunc
	startErr error
	stopped  bool
}

func (m *mockSource) Start(out chan<- *domain.Advertisement) error {
	if m.startErr != nil {
		return m.startErr
	}
	go func() {
		for _, e := range m.events {
			out <- e
		}
		if m.onDrain != nil {
			m.onDrain()
		}
	}()
	return nil
}

func (m *mockSource) Stop() error {
	m.stopped = true
	return nil
}

type memStore struct {
	mu     sync.Mutex
	saved  domain.ScanResult
	loaded domain.ScanResult
	err    error
}

func (m *memStore) Save(res domain.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = res
	return nil
}

func (m *memStore) Load() (domain.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.loaded, nil
}

type sentMessage struct {
	Kind    ports.MessageKind
	Payload []byte
}

type mockSession struct {
	openErr  error
	sendErr  error
	failFrom int

	opened bool
	closed bool
	sent   []sentMessage
}

func (m *mockSession) Open(ctx context.Context, identity domain.NodeIdentity) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Send(ctx context.Context, kind ports.MessageKind, payload []byte) error {
	if m.sendErr != nil && len(m.sent) >= m.failFrom {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{Kind: kind, Payload: payload})
	return nil
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

type mockSensor struct {
	reading domain.Reading
	err     error
}

func (m *mockSensor) Sample() (domain.Reading, error) {
	return m.reading, m.err
}

type mockArchive struct {
	records []ports.CycleRecord
	err     error
}

func (m *mockArchive) RecordCycle(rec ports.CycleRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
	gauges   map[string]float64
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockObs) LogCritical(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
}

func (m *mockObs) ObserveLatency(string, float64) {}

func (m *mockObs) SetGauge(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = map[string]float64{}
	}
	m.gauges[name] = v
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
