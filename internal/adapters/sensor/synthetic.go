// Package sensor provides the simulated reading used by sensor-equipped node
// variants. Real probes would implement the same port.
package sensor

import (
	"math/rand"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

type Synthetic struct {
	kind   string
	base   float64
	jitter float64
	rng    *rand.Rand
}

func NewSynthetic(kind string, base, jitter float64, seed int64) *Synthetic {
	return &Synthetic{
		kind:   kind,
		base:   base,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Sample returns base ± jitter, uniformly distributed.
func (s *Synthetic) Sample() (domain.Reading, error) {
	v := s.base + (s.rng.Float64()*2-1)*s.jitter
	return domain.Reading{Kind: s.kind, Value: v}, nil
}

var _ ports.SensorSource = (*Synthetic)(nil)
