package domain

// RadioPhase says which of the two mutually exclusive radio configurations is
// active. Exactly one holds at any instant; only the duty-cycle orchestrator
// transitions it.
type RadioPhase int

const (
	PhaseScan RadioPhase = iota
	PhaseMesh
)

func (p RadioPhase) String() string {
	switch p {
	case PhaseScan:
		return "scan"
	case PhaseMesh:
		return "mesh"
	default:
		return "unknown"
	}
}
