package meshbeacon

import (
	"meshbeacon/internal/adapters/bluez"
	"meshbeacon/internal/adapters/uplink"
	"meshbeacon/internal/app/config"
)

// Config re-exports the root configuration struct so callers can construct
// or modify it programmatically.
type Config = config.Config

type (
	// NodeConfig holds the provisioning token and sensor variant settings.
	NodeConfig = config.NodeConfig
	// DutyConfig holds phase windows and service unit names.
	DutyConfig = config.DutyConfig
	// ScanConfig holds beacon filtering and event buffering settings.
	ScanConfig = config.ScanConfig
	// HandoffConfig locates the durable scan/relay hand-off file.
	HandoffConfig = config.HandoffConfig
	// RelayConfig selects and configures the relay transport.
	RelayConfig = config.RelayConfig
	// SnapshotConfig holds the mesh configuration backup/restore paths.
	SnapshotConfig = config.SnapshotConfig
	// ArchiveConfig configures the local cycle history.
	ArchiveConfig = config.ArchiveConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// WatcherConfig selects the discovery adapter.
	WatcherConfig = bluez.WatcherConfig
	// MeshConfig describes the mesh destination.
	MeshConfig = bluez.MeshConfig
	// AMQPConfig configures the AMQP uplink transport.
	AMQPConfig = uplink.Config
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
