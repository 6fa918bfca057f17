package ports

import "meshbeacon/internal/domain"

type SensorSource interface {
	Sample() (domain.Reading, error)
}
