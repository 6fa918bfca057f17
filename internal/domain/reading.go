package domain

// Reading is one sensor sample taken during a relay phase on sensor-equipped
// node variants.
type Reading struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}
