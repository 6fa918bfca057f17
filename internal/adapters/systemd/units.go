// Package systemd toggles the bluetoothd/bluetooth-meshd units through the
// systemd manager D-Bus API. The two units cannot coexist on one radio, which
// is exactly why the duty cycle flips them.
package systemd

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"meshbeacon/internal/ports"
)

const (
	managerService = "org.freedesktop.systemd1"
	managerPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	managerIface   = "org.freedesktop.systemd1.Manager"

	// "replace" queues the job even when a conflicting one is running.
	jobMode = "replace"
)

type UnitControl struct {
	manager dbus.BusObject
}

func NewUnitControl(conn *dbus.Conn) *UnitControl {
	return &UnitControl{manager: conn.Object(managerService, managerPath)}
}

func (u *UnitControl) StartUnit(ctx context.Context, unit string) error {
	var job dbus.ObjectPath
	call := u.manager.CallWithContext(ctx, managerIface+".StartUnit", 0, unit, jobMode)
	if call.Err != nil {
		return errors.Wrapf(call.Err, "start unit %s", unit)
	}
	return call.Store(&job)
}

func (u *UnitControl) StopUnit(ctx context.Context, unit string) error {
	var job dbus.ObjectPath
	call := u.manager.CallWithContext(ctx, managerIface+".StopUnit", 0, unit, jobMode)
	if call.Err != nil {
		return errors.Wrapf(call.Err, "stop unit %s", unit)
	}
	return call.Store(&job)
}

var _ ports.RadioControl = (*UnitControl)(nil)
