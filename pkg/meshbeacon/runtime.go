// Package meshbeacon wires the duty-cycle node together: BlueZ watcher and
// mesh session, systemd unit toggling, file hand-off, optional sensor and
// cycle archive, Prometheus observability.
package meshbeacon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"meshbeacon/internal/adapters/archive"
	"meshbeacon/internal/adapters/bluez"
	"meshbeacon/internal/adapters/handoff"
	"meshbeacon/internal/adapters/observability"
	"meshbeacon/internal/adapters/sensor"
	"meshbeacon/internal/adapters/systemd"
	"meshbeacon/internal/adapters/uplink"
	"meshbeacon/internal/app/config"
	"meshbeacon/internal/app/duty"
	"meshbeacon/internal/app/phase"
	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source        ports.AdvertisementSource
	radio         ports.RadioControl
	store         ports.ObservationStore
	session       ports.MeshSession
	sensorSource  ports.SensorSource
	archive       ports.CycleArchive
	observability ports.Observability
}

// WithAdvertisementSource injects a custom advertisement source (simulators,
// canned traces, alternative stacks).
func WithAdvertisementSource(src ports.AdvertisementSource) RuntimeOption {
	return func(o *runtimeOverrides) { o.source = src }
}

// WithRadioControl injects a custom service toggler.
func WithRadioControl(r ports.RadioControl) RuntimeOption {
	return func(o *runtimeOverrides) { o.radio = r }
}

// WithObservationStore overrides the default file hand-off.
func WithObservationStore(s ports.ObservationStore) RuntimeOption {
	return func(o *runtimeOverrides) { o.store = s }
}

// WithSession injects a custom relay transport.
func WithSession(s ports.MeshSession) RuntimeOption {
	return func(o *runtimeOverrides) { o.session = s }
}

// WithSensorSource injects a real sensor in place of the synthetic one.
func WithSensorSource(s ports.SensorSource) RuntimeOption {
	return func(o *runtimeOverrides) { o.sensorSource = s }
}

// WithCycleArchive overrides the default SQLite history.
func WithCycleArchive(a ports.CycleArchive) RuntimeOption {
	return func(o *runtimeOverrides) { o.archive = a }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// Runtime owns the orchestrator plus the shared process-wide resources: the
// system bus connection, the archive database, and the metrics server.
type Runtime struct {
	cfg  *config.Config
	obs  ports.Observability
	orch *duty.Orchestrator

	conn       *dbus.Conn
	db         *sql.DB
	metricsSrv *http.Server
}

// Conf loads the YAML configuration at path and builds a Runtime from it.
func Conf(path string, opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, opts...)
}

// NewRuntime bootstraps the default adapters. Option values can override any
// dependency, which is also how the tests run the duty cycle without a
// radio.
func NewRuntime(cfg *config.Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	identity, err := cfg.Identity()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{cfg: cfg, obs: obs}

	needBus := overrides.source == nil || overrides.radio == nil ||
		(overrides.session == nil && cfg.Relay.Transport == config.TransportMesh)
	if needBus {
		rt.conn, err = dialSystemBus()
		if err != nil {
			return nil, err
		}
	}

	source := overrides.source
	if source == nil {
		source = bluez.NewWatcher(rt.conn, cfg.Scan.Watcher)
	}

	radio := overrides.radio
	if radio == nil {
		radio = systemd.NewUnitControl(rt.conn)
	}

	store := overrides.store
	if store == nil {
		store, err = handoff.NewFileStore(cfg.Handoff.Path)
		if err != nil {
			return nil, err
		}
	}

	session := overrides.session
	if session == nil {
		switch cfg.Relay.Transport {
		case config.TransportAMQP:
			session = uplink.NewSession(cfg.Relay.AMQP)
		default:
			session = bluez.NewMeshSession(rt.conn, cfg.Relay.Mesh)
		}
	}

	sensorSrc := overrides.sensorSource
	if sensorSrc == nil && cfg.Node.Sensor {
		sensorSrc = sensor.NewSynthetic(cfg.Node.SensorKind, cfg.Node.SensorBase,
			cfg.Node.SensorJitter, time.Now().UnixNano())
	}

	cycleArchive := overrides.archive
	if cycleArchive == nil && cfg.Archive.Path != "" {
		rt.db, err = sql.Open("sqlite", cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("open archive db: %w", err)
		}
		sqlArchive := archive.NewSQLiteArchive(rt.db, cfg.Archive.Table)
		if err := sqlArchive.EnsureSchema(); err != nil {
			return nil, fmt.Errorf("archive schema: %w", err)
		}
		cycleArchive = sqlArchive
	}

	rt.orch = duty.New(duty.Options{
		Radio:       radio,
		ScanUnit:    cfg.Duty.ScanUnit,
		MeshUnit:    cfg.Duty.MeshUnit,
		ScanWindow:  cfg.Duty.ScanWindow,
		RelayWindow: cfg.Duty.RelayWindow,
		BackupDir:   cfg.Snapshot.BackupDir,
		ConfigDir:   cfg.Snapshot.ConfigDir,
		Obs:         obs,
		Scan: func(ctx context.Context) error {
			_, err := phase.RunScan(ctx, phase.ScanDeps{
				Source:       source,
				Store:        store,
				BeaconPrefix: cfg.Scan.BeaconPrefix,
				EventBuffer:  cfg.Scan.EventBuffer,
				Obs:          obs,
			})
			return err
		},
		Relay: func(ctx context.Context) error {
			return phase.RunRelay(ctx, phase.RelayDeps{
				Session:  session,
				Store:    store,
				Sensor:   sensorSrc,
				Archive:  cycleArchive,
				Identity: identity,
				Obs:      obs,
			})
		},
	})

	return rt, nil
}

// Run starts the metrics endpoint and blocks in the duty cycle until the
// context is cancelled, then shuts down.
func (r *Runtime) Run(ctx context.Context) error {
	r.startMetrics()

	runErr := r.orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

// ScanOnce runs a single bounded scan phase, toggling services as the duty
// cycle would. Bench tool, not part of normal operation.
func (r *Runtime) ScanOnce(ctx context.Context) {
	r.orch.RunScanPhase(ctx)
}

// RelayOnce runs a single bounded relay phase. It restores the configuration
// snapshot first, exactly like a full run.
func (r *Runtime) RelayOnce(ctx context.Context) error {
	if err := duty.RestoreSnapshot(r.cfg.Snapshot.BackupDir, r.cfg.Snapshot.ConfigDir); err != nil {
		return err
	}
	r.orch.RunRelayPhase(ctx)
	return nil
}

// Phase reports the orchestrator's current radio phase.
func (r *Runtime) Phase() domain.RadioPhase {
	return r.orch.Phase()
}

// Shutdown releases the metrics server, archive database, and bus connection.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server exited")
		}
	}()
}

// dialSystemBus retries the initial bus connection; on slow boots D-Bus can
// come up after this process does. Phases never retry, only startup does.
func dialSystemBus() (*dbus.Conn, error) {
	var conn *dbus.Conn
	connect := func() error {
		c, err := dbus.SystemBus()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(connect, bo); err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return conn, nil
}
