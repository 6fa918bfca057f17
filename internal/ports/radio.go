package ports

import "context"

// RadioControl toggles the system services that own the two radio
// configurations. Start/stop are best effort; the duty cycle is the retry
// unit, not the individual call.
type RadioControl interface {
	StartUnit(ctx context.Context, unit string) error
	StopUnit(ctx context.Context, unit string) error
}
