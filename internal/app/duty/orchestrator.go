// Package duty owns the single radio. It alternates the two service
// configurations forever, bounding each phase with a hard wall-clock timeout
// so a hung phase can never stall the cycle.
package duty

import (
	"context"
	"errors"
	"sync"
	"time"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

// PhaseFunc runs one bounded phase. The orchestrator cancels the context at
// the phase deadline regardless of progress.
type PhaseFunc func(ctx context.Context) error

type Options struct {
	Radio       ports.RadioControl
	ScanUnit    string
	MeshUnit    string
	ScanWindow  time.Duration
	RelayWindow time.Duration
	BackupDir   string
	ConfigDir   string
	Scan        PhaseFunc
	Relay       PhaseFunc
	Obs         ports.Observability
}

type Orchestrator struct {
	opts Options

	// Done channels of abandoned phase runs. Only the Run loop (or a single
	// external caller of the RunXxxPhase methods) touches these.
	pendingScan  chan error
	pendingRelay chan error

	mu    sync.Mutex
	phase domain.RadioPhase
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{opts: opts, phase: domain.PhaseMesh}
}

// Phase reports which radio configuration currently holds.
func (o *Orchestrator) Phase() domain.RadioPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Run restores the mesh configuration snapshot and then cycles forever until
// the context is cancelled. A failed snapshot restore is fatal: without the
// configuration the node cannot participate in the mesh at all.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := RestoreSnapshot(o.opts.BackupDir, o.opts.ConfigDir); err != nil {
		return err
	}
	o.opts.Obs.LogInfo("duty_cycle_started",
		ports.Field{Key: "scan_window", Value: o.opts.ScanWindow.String()},
		ports.Field{Key: "relay_window", Value: o.opts.RelayWindow.String()})

	for {
		if ctx.Err() != nil {
			return nil
		}
		o.RunScanPhase(ctx)
		if ctx.Err() != nil {
			return nil
		}
		o.RunRelayPhase(ctx)
		o.opts.Obs.IncCounter("meshbeacon_cycles_total", 1)
	}
}

// RunScanPhase flips the radio to the plain scanning service and runs the
// scanner for the scan window. A service-toggle failure aborts only this
// phase; the next cycle retries naturally.
func (o *Orchestrator) RunScanPhase(ctx context.Context) {
	if err := o.opts.Radio.StopUnit(ctx, o.opts.MeshUnit); err != nil {
		o.opts.Obs.LogError("mesh_unit_stop_failed", err,
			ports.Field{Key: "unit", Value: o.opts.MeshUnit})
	}
	if err := o.opts.Radio.StartUnit(ctx, o.opts.ScanUnit); err != nil {
		o.opts.Obs.LogError("scan_unit_start_failed", err,
			ports.Field{Key: "unit", Value: o.opts.ScanUnit})
		return
	}
	o.setPhase(domain.PhaseScan)

	o.runBounded(ctx, o.opts.ScanWindow, o.opts.Scan, "scan_phase_failed", &o.pendingScan)
}

// RunRelayPhase flips the radio to the mesh service and runs the relay for
// the relay window.
func (o *Orchestrator) RunRelayPhase(ctx context.Context) {
	if err := o.opts.Radio.StopUnit(ctx, o.opts.ScanUnit); err != nil {
		o.opts.Obs.LogError("scan_unit_stop_failed", err,
			ports.Field{Key: "unit", Value: o.opts.ScanUnit})
	}
	if err := o.opts.Radio.StartUnit(ctx, o.opts.MeshUnit); err != nil {
		o.opts.Obs.LogError("mesh_unit_start_failed", err,
			ports.Field{Key: "unit", Value: o.opts.MeshUnit})
		return
	}
	o.setPhase(domain.PhaseMesh)

	o.runBounded(ctx, o.opts.RelayWindow, o.opts.Relay, "relay_phase_failed", &o.pendingRelay)
}

// runBounded runs fn under a hard deadline. The phases depend on flaky system
// services whose shutdown is not always observable from in here, so hitting
// the deadline is the normal way a phase ends, not an error.
func (o *Orchestrator) runBounded(ctx context.Context, window time.Duration, fn PhaseFunc, failMsg string, pending *chan error) {
	// An abandoned run still owns the phase's resources, the scan source in
	// particular; starting another on top would double-start it or let the
	// stale run's teardown hit the new session.
	if *pending != nil {
		select {
		case err := <-*pending:
			o.reportPhaseErr(failMsg, err)
			*pending = nil
		default:
			o.opts.Obs.LogError(failMsg, errors.New("previous run still active, skipping this window"))
			return
		}
	}

	phaseCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(phaseCtx) }()

	select {
	case err := <-done:
		o.reportPhaseErr(failMsg, err)
	case <-phaseCtx.Done():
		// Give the phase a moment to flush its hand-off writes, then abandon
		// it; cycle forward progress is worth more than a clean phase exit.
		grace := time.NewTimer(phaseGrace)
		defer grace.Stop()
		select {
		case err := <-done:
			o.reportPhaseErr(failMsg, err)
		case <-grace.C:
			o.opts.Obs.LogError(failMsg, errors.New("phase did not stop at deadline"))
			*pending = done
		}
	}
}

func (o *Orchestrator) reportPhaseErr(msg string, err error) {
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		o.opts.Obs.LogError(msg, err)
	}
}

const phaseGrace = 500 * time.Millisecond

func (o *Orchestrator) setPhase(p domain.RadioPhase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.opts.Obs.SetGauge("meshbeacon_radio_phase", float64(p))
	o.opts.Obs.LogInfo("radio_phase_changed", ports.Field{Key: "phase", Value: p.String()})
}
