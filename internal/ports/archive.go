package ports

import "time"

// CycleRecord summarizes one completed relay phase for on-device diagnostics.
type CycleRecord struct {
	At           time.Time
	Observations int
	Sent         int
	SensorValue  float64
	HasSensor    bool
}

type CycleArchive interface {
	RecordCycle(rec CycleRecord) error
}
