package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"meshbeacon/internal/adapters/bluez"
	"meshbeacon/internal/adapters/uplink"
	"meshbeacon/internal/domain"
)

const (
	TransportMesh = "mesh"
	TransportAMQP = "amqp"
)

type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Duty     DutyConfig     `yaml:"duty"`
	Scan     ScanConfig     `yaml:"scan"`
	Handoff  HandoffConfig  `yaml:"handoff"`
	Relay    RelayConfig    `yaml:"relay"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type NodeConfig struct {
	Token        string  `yaml:"token"`
	SensorKind   string  `yaml:"sensor_kind"`
	SensorBase   float64 `yaml:"sensor_base"`
	SensorJitter float64 `yaml:"sensor_jitter"`
	Sensor       bool    `yaml:"sensor"`
}

type DutyConfig struct {
	ScanWindow  time.Duration `yaml:"scan_window"`
	RelayWindow time.Duration `yaml:"relay_window"`
	ScanUnit    string        `yaml:"scan_unit"`
	MeshUnit    string        `yaml:"mesh_unit"`
}

type ScanConfig struct {
	Watcher      bluez.WatcherConfig `yaml:"watcher"`
	BeaconPrefix string              `yaml:"beacon_prefix"`
	EventBuffer  int                 `yaml:"event_buffer"`
}

type HandoffConfig struct {
	Path string `yaml:"path"`
}

type RelayConfig struct {
	Transport string           `yaml:"transport"`
	Mesh      bluez.MeshConfig `yaml:"mesh"`
	AMQP      uplink.Config    `yaml:"amqp"`
}

type SnapshotConfig struct {
	BackupDir string `yaml:"backup_dir"`
	ConfigDir string `yaml:"config_dir"`
}

type ArchiveConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Node.SensorKind == "" {
		c.Node.SensorKind = "temperature"
	}
	if c.Node.SensorBase == 0 {
		c.Node.SensorBase = 21.0
	}
	if c.Node.SensorJitter == 0 {
		c.Node.SensorJitter = 1.5
	}
	if c.Duty.ScanWindow == 0 {
		c.Duty.ScanWindow = 2 * time.Second
	}
	if c.Duty.RelayWindow == 0 {
		c.Duty.RelayWindow = 8 * time.Second
	}
	if c.Duty.ScanUnit == "" {
		c.Duty.ScanUnit = "bluetooth.service"
	}
	if c.Duty.MeshUnit == "" {
		c.Duty.MeshUnit = "bluetooth-mesh.service"
	}
	if c.Scan.BeaconPrefix == "" {
		// Eddystone service UUID prefix.
		c.Scan.BeaconPrefix = "0000feaa"
	}
	if c.Scan.EventBuffer == 0 {
		c.Scan.EventBuffer = 64
	}
	if c.Handoff.Path == "" {
		c.Handoff.Path = "./data/scan.txt"
	}
	if c.Relay.Transport == "" {
		c.Relay.Transport = TransportMesh
	}
	if c.Snapshot.BackupDir == "" {
		c.Snapshot.BackupDir = "./data/mesh-backup"
	}
	if c.Snapshot.ConfigDir == "" {
		c.Snapshot.ConfigDir = "/var/lib/bluetooth/mesh"
	}
	if c.Archive.Table == "" {
		c.Archive.Table = "cycles"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	c.Scan.Watcher.ApplyDefaults()
	c.Relay.Mesh.ApplyDefaults()
	c.Relay.AMQP.ApplyDefaults()
}

func (c *Config) validate() error {
	// The token may arrive on the command line instead, the way the
	// provisioner hands it over; Identity enforces its presence at startup.
	if c.Node.Token != "" {
		if _, err := domain.ParseToken(c.Node.Token); err != nil {
			return fmt.Errorf("node.token: %w", err)
		}
	}
	switch c.Relay.Transport {
	case TransportMesh:
		if err := c.Relay.Mesh.Validate(); err != nil {
			return fmt.Errorf("relay.mesh: %w", err)
		}
	case TransportAMQP:
		if err := c.Relay.AMQP.Validate(); err != nil {
			return fmt.Errorf("relay.amqp: %w", err)
		}
	default:
		return fmt.Errorf("relay.transport must be %q or %q", TransportMesh, TransportAMQP)
	}
	if c.Handoff.Path == "" {
		return fmt.Errorf("handoff.path is required")
	}
	return nil
}

// Identity parses the configured node token. No mesh participation is
// possible without one, so an unset token is fatal here.
func (c *Config) Identity() (domain.NodeIdentity, error) {
	if c.Node.Token == "" {
		return domain.NodeIdentity{}, fmt.Errorf("node token is required: set node.token or pass -token")
	}
	return domain.ParseToken(c.Node.Token)
}
