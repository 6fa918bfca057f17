package domain

// Advertisement is a single discovery or property-change event reported by
// the radio subsystem for a nearby device. HasRSSI distinguishes a reading of
// zero from an event that carried no signal-strength data at all.
type Advertisement struct {
	Address string
	UUIDs   []string
	RSSI    int16
	HasRSSI bool
}

// Observation is the most recent signal-strength reading for an admitted
// beacon. Later events for the same address overwrite it in place.
type Observation struct {
	Address string   `json:"address"`
	UUIDs   []string `json:"uuids,omitempty"`
	RSSI    int16    `json:"rssi"`
}

// ScanResult is the complete output of one scan phase, keyed by address.
type ScanResult map[string]Observation
