package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

// RelayDeps is everything one relay phase needs. Sensor and Archive are nil
// on nodes that lack them.
type RelayDeps struct {
	Session  ports.MeshSession
	Store    ports.ObservationStore
	Sensor   ports.SensorSource
	Archive  ports.CycleArchive
	Identity domain.NodeIdentity
	Obs      ports.Observability
}

// ObservationMessage is the JSON body of an observation relay message.
type ObservationMessage struct {
	Address string `json:"address"`
	RSSI    int16  `json:"rssi"`
}

// RunRelay opens a session under the node identity, replays the hand-off
// left by the scan phase, and appends one sensor reading when the node has a
// sensor. An empty or missing hand-off means there is nothing to send and the
// phase completes normally. On a transmission failure the phase ends early;
// the next cycle is the retry.
func RunRelay(ctx context.Context, d RelayDeps) error {
	if err := d.Session.Open(ctx, d.Identity); err != nil {
		d.Obs.IncCounter("meshbeacon_relay_failures_total", 1)
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := d.Session.Close(); err != nil {
			d.Obs.LogError("session_close_failed", err)
		}
	}()

	result, err := d.Store.Load()
	if err != nil {
		d.Obs.LogError("handoff_load_failed", err)
		result = domain.ScanResult{}
	}

	sent := 0
	for _, o := range result {
		if ctx.Err() != nil {
			break
		}
		body, err := json.Marshal(ObservationMessage{Address: o.Address, RSSI: o.RSSI})
		if err != nil {
			d.Obs.LogError("observation_encode_failed", err,
				ports.Field{Key: "address", Value: o.Address})
			continue
		}
		start := time.Now()
		if err := d.Session.Send(ctx, ports.MessageKindObservation, body); err != nil {
			d.Obs.IncCounter("meshbeacon_relay_failures_total", 1)
			return fmt.Errorf("send observation %s: %w", o.Address, err)
		}
		d.Obs.ObserveLatency("meshbeacon_relay_send_seconds", time.Since(start).Seconds())
		sent++
	}
	d.Obs.IncCounter("meshbeacon_messages_sent_total", float64(sent))

	rec := ports.CycleRecord{
		At:           time.Now(),
		Observations: len(result),
		Sent:         sent,
	}

	if d.Sensor != nil && ctx.Err() == nil {
		reading, err := d.Sensor.Sample()
		if err != nil {
			d.Obs.LogError("sensor_sample_failed", err)
		} else if err := sendReading(ctx, d, reading); err != nil {
			d.Obs.IncCounter("meshbeacon_relay_failures_total", 1)
			return err
		} else {
			d.Obs.IncCounter("meshbeacon_messages_sent_total", 1)
			rec.SensorValue = reading.Value
			rec.HasSensor = true
		}
	}

	if d.Archive != nil {
		if err := d.Archive.RecordCycle(rec); err != nil {
			d.Obs.LogError("cycle_archive_failed", err)
		}
	}
	return nil
}

func sendReading(ctx context.Context, d RelayDeps, reading domain.Reading) error {
	body, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode sensor reading: %w", err)
	}
	if err := d.Session.Send(ctx, ports.MessageKindSensor, body); err != nil {
		return fmt.Errorf("send sensor reading: %w", err)
	}
	return nil
}
