package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"meshbeacon/internal/ports"
)

type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	observations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshbeacon_observations_total",
		Help: "Beacon observations admitted or updated during scan phases.",
	})
	sent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshbeacon_messages_sent_total",
		Help: "Messages transmitted through the relay session.",
	})
	relayFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshbeacon_relay_failures_total",
		Help: "Relay phases that ended early on a session or send failure.",
	})
	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshbeacon_cycles_total",
		Help: "Completed duty cycles since process start.",
	})
	lastScan := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshbeacon_last_scan_observations",
		Help: "Number of beacons recorded by the most recent scan phase.",
	})
	phase := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshbeacon_radio_phase",
		Help: "Active radio phase: 0 scan, 1 mesh.",
	})
	sendLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshbeacon_relay_send_seconds",
		Help:    "Latency of individual relay transmissions.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	prometheus.MustRegister(observations, sent, relayFailures, cycles, lastScan, phase, sendLatency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"meshbeacon_observations_total":   observations,
			"meshbeacon_messages_sent_total":  sent,
			"meshbeacon_relay_failures_total": relayFailures,
			"meshbeacon_cycles_total":         cycles,
		},
		gauges: map[string]prometheus.Gauge{
			"meshbeacon_last_scan_observations": lastScan,
			"meshbeacon_radio_phase":            phase,
		},
		histos: map[string]prometheus.Observer{
			"meshbeacon_relay_send_seconds": sendLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.WithFields(toLogrus(fields)).Info(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err == nil {
		return
	}
	log.WithFields(toLogrus(fields)).WithError(err).Error(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err == nil {
		return
	}
	log.WithFields(toLogrus(fields)).WithField("severity", "critical").WithError(err).Error(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func toLogrus(fields []ports.Field) log.Fields {
	out := log.Fields{}
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
