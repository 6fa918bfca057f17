// Package phase holds the two bounded radio phases. Each runs until its
// context deadline; the orchestrator owns the deadline.
package phase

import (
	"context"
	"strings"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

// ScanDeps is everything one scan phase needs.
type ScanDeps struct {
	Source       ports.AdvertisementSource
	Store        ports.ObservationStore
	BeaconPrefix string
	EventBuffer  int
	Obs          ports.Observability
}

// RunScan consumes advertisement events sequentially until the context
// deadline, keeping the latest RSSI per admitted beacon, then persists the
// result for the relay phase. The event loop is single-threaded on purpose:
// the observation map never needs a lock.
func RunScan(ctx context.Context, d ScanDeps) (domain.ScanResult, error) {
	buf := d.EventBuffer
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan *domain.Advertisement, buf)

	if err := d.Source.Start(ch); err != nil {
		return nil, err
	}
	defer func() {
		if err := d.Source.Stop(); err != nil {
			d.Obs.LogError("scan_source_stop_failed", err)
		}
	}()

	result := domain.ScanResult{}
	for {
		select {
		case <-ctx.Done():
			// Events already buffered arrived inside the window; fold them in
			// before the hand-off goes durable.
			for drained := false; !drained; {
				select {
				case adv := <-ch:
					if adv != nil && applyAdvertisement(result, adv, d.BeaconPrefix) {
						d.Obs.IncCounter("meshbeacon_observations_total", 1)
					}
				default:
					drained = true
				}
			}
			d.Obs.SetGauge("meshbeacon_last_scan_observations", float64(len(result)))
			if err := d.Store.Save(result); err != nil {
				return result, err
			}
			return result, nil
		case adv := <-ch:
			if adv == nil {
				continue
			}
			if applyAdvertisement(result, adv, d.BeaconPrefix) {
				d.Obs.IncCounter("meshbeacon_observations_total", 1)
			}
		}
	}
}

// applyAdvertisement upserts one event into the result set. Already admitted
// addresses take any RSSI update (latest wins); unknown addresses are
// admitted only when the first advertised UUID carries the beacon-class
// prefix and the event includes a reading. Anything malformed is skipped.
func applyAdvertisement(result domain.ScanResult, adv *domain.Advertisement, prefix string) bool {
	if adv.Address == "" || !adv.HasRSSI {
		return false
	}

	if prev, ok := result[adv.Address]; ok {
		prev.RSSI = adv.RSSI
		if len(adv.UUIDs) > 0 {
			prev.UUIDs = adv.UUIDs
		}
		result[adv.Address] = prev
		return true
	}

	if len(adv.UUIDs) == 0 {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(adv.UUIDs[0]), strings.ToLower(prefix)) {
		return false
	}

	result[adv.Address] = domain.Observation{
		Address: adv.Address,
		UUIDs:   adv.UUIDs,
		RSSI:    adv.RSSI,
	}
	return true
}
