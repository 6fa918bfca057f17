package ports

import "meshbeacon/internal/domain"

// ObservationStore is the durable hand-off between the scan phase and the
// relay phase. Save replaces the whole set; a missing store reads back empty.
type ObservationStore interface {
	Save(res domain.ScanResult) error
	Load() (domain.ScanResult, error)
}
