package ports

import "meshbeacon/internal/domain"

type AdvertisementSource interface {
	Start(out chan<- *domain.Advertisement) error
	Stop() error
}
