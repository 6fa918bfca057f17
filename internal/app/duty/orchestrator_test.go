package duty

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

type fakeRadio struct {
	mu       sync.Mutex
	active   map[string]bool
	startErr map[string]error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{active: map[string]bool{}, startErr: map[string]error{}}
}

func (f *fakeRadio) StartUnit(_ context.Context, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[unit]; err != nil {
		return err
	}
	f.active[unit] = true
	return nil
}

func (f *fakeRadio) StopUnit(_ context.Context, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[unit] = false
	return nil
}

func (f *fakeRadio) activeUnits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for unit, on := range f.active {
		if on {
			out = append(out, unit)
		}
	}
	return out
}

type fakeObs struct {
	mu     sync.Mutex
	errors []error
	counts map[string]float64
}

func (f *fakeObs) LogInfo(string, ...ports.Field) {}
func (f *fakeObs) LogError(_ string, err error, _ ...ports.Field) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, err)
}
func (f *fakeObs) LogCritical(_ string, err error, _ ...ports.Field) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, err)
}
func (f *fakeObs) IncCounter(name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]float64{}
	}
	f.counts[name] += v
}
func (f *fakeObs) ObserveLatency(string, float64) {}
func (f *fakeObs) SetGauge(string, float64) {}

func idlePhase(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func testOptions(radio *fakeRadio, obs *fakeObs) Options {
	return Options{
		Radio:       radio,
		ScanUnit:    "bluetooth.service",
		MeshUnit:    "bluetooth-mesh.service",
		ScanWindow:  20 * time.Millisecond,
		RelayWindow: 20 * time.Millisecond,
		Scan:        idlePhase,
		Relay:       idlePhase,
		Obs:         obs,
	}
}

func assertExactlyActive(t *testing.T, radio *fakeRadio, want string) {
	t.Helper()
	units := radio.activeUnits()
	if len(units) != 1 || units[0] != want {
		t.Fatalf("expected exactly %q active, got %v", want, units)
	}
}

func TestScanPhaseActivatesOnlyScanUnit(t *testing.T) {
	radio := newFakeRadio()
	radio.active["bluetooth-mesh.service"] = true
	o := New(testOptions(radio, &fakeObs{}))

	o.RunScanPhase(context.Background())

	assertExactlyActive(t, radio, "bluetooth.service")
	if o.Phase() != domain.PhaseScan {
		t.Fatalf("expected scan phase, got %s", o.Phase())
	}
}

func TestRelayPhaseActivatesOnlyMeshUnit(t *testing.T) {
	radio := newFakeRadio()
	radio.active["bluetooth.service"] = true
	o := New(testOptions(radio, &fakeObs{}))

	o.RunRelayPhase(context.Background())

	assertExactlyActive(t, radio, "bluetooth-mesh.service")
	if o.Phase() != domain.PhaseMesh {
		t.Fatalf("expected mesh phase, got %s", o.Phase())
	}
}

// A phase body blowing up must not break the one-unit-active invariant at
// the end of the cycle.
func TestFailingPhaseKeepsUnitInvariant(t *testing.T) {
	radio := newFakeRadio()
	obs := &fakeObs{}
	opts := testOptions(radio, obs)
	opts.Scan = func(context.Context) error { return errors.New("scanner exploded") }
	o := New(opts)

	o.RunScanPhase(context.Background())
	assertExactlyActive(t, radio, "bluetooth.service")

	o.RunRelayPhase(context.Background())
	assertExactlyActive(t, radio, "bluetooth-mesh.service")

	if len(obs.errors) == 0 {
		t.Fatalf("expected scan failure to be logged")
	}
}

func TestUnitStartFailureAbortsOnlyCurrentPhase(t *testing.T) {
	radio := newFakeRadio()
	radio.startErr["bluetooth.service"] = errors.New("unit failed")
	scanRan := false
	obs := &fakeObs{}
	opts := testOptions(radio, obs)
	opts.Scan = func(ctx context.Context) error {
		scanRan = true
		return nil
	}
	o := New(opts)

	o.RunScanPhase(context.Background())
	if scanRan {
		t.Fatalf("expected scan body to be skipped when its unit cannot start")
	}

	// The following relay phase must still proceed normally.
	o.RunRelayPhase(context.Background())
	assertExactlyActive(t, radio, "bluetooth-mesh.service")
}

func TestHungPhaseDoesNotStallTheCycle(t *testing.T) {
	radio := newFakeRadio()
	obs := &fakeObs{}
	opts := testOptions(radio, obs)
	opts.Scan = func(context.Context) error {
		select {} // ignores cancellation entirely
	}
	o := New(opts)

	done := make(chan struct{})
	go func() {
		o.RunScanPhase(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(opts.ScanWindow + phaseGrace + time.Second):
		t.Fatalf("orchestrator did not abandon a hung phase")
	}
	if len(obs.errors) == 0 {
		t.Fatalf("expected the abandoned phase to be logged")
	}
}

// An abandoned run keeps ownership of the phase's resources (the scan source
// in particular) until it actually exits, so the next window of the same
// phase is skipped rather than run on top of it.
func TestAbandonedPhaseBlocksNextRunUntilItExits(t *testing.T) {
	radio := newFakeRadio()
	obs := &fakeObs{}
	opts := testOptions(radio, obs)

	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	opts.Scan = func(context.Context) error {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		if first {
			<-release // ignores cancellation until released
		}
		return nil
	}
	o := New(opts)

	o.RunScanPhase(context.Background())

	o.RunScanPhase(context.Background())
	mu.Lock()
	if runs != 1 {
		mu.Unlock()
		t.Fatalf("expected the window to be skipped while the stale run is live, runs = %d", runs)
	}
	mu.Unlock()

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		o.RunScanPhase(context.Background())
		mu.Lock()
		n := runs
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("phase never resumed after the stale run exited")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunCyclesUntilCancelled(t *testing.T) {
	radio := newFakeRadio()
	obs := &fakeObs{}
	opts := testOptions(radio, obs)
	opts.BackupDir = t.TempDir()
	opts.ConfigDir = t.TempDir()
	o := New(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if obs.counts["meshbeacon_cycles_total"] < 1 {
		t.Fatalf("expected at least one completed cycle")
	}
	units := radio.activeUnits()
	if len(units) != 1 {
		t.Fatalf("expected exactly one unit active after shutdown, got %v", units)
	}
}

func TestRunFailsWithoutSnapshotBackup(t *testing.T) {
	opts := testOptions(newFakeRadio(), &fakeObs{})
	opts.BackupDir = "/nonexistent/mesh-backup"
	opts.ConfigDir = t.TempDir()
	o := New(opts)

	if err := o.Run(context.Background()); err == nil {
		t.Fatalf("expected missing snapshot backup to be fatal at startup")
	}
}
