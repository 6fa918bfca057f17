package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

const (
	bluezService = "org.bluez"

	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"

	omIface    = "org.freedesktop.DBus.ObjectManager"
	propsIface = "org.freedesktop.DBus.Properties"
)

// WatcherConfig selects the adapter used for LE discovery.
type WatcherConfig struct {
	Adapter string `yaml:"adapter"`
}

func (c *WatcherConfig) ApplyDefaults() {
	if c.Adapter == "" {
		c.Adapter = "hci0"
	}
}

// Watcher subscribes to device-discovered and property-changed signals from
// bluetoothd and emits one Advertisement per event. It does no filtering of
// its own; admission is the scan phase's job.
type Watcher struct {
	conn    *dbus.Conn
	cfg     WatcherConfig
	adapter dbus.BusObject

	cancel context.CancelFunc
	wg     sync.WaitGroup
	sigCh  chan *dbus.Signal

	mu         sync.Mutex
	started    bool
	addrByPath map[dbus.ObjectPath]string
	uuidByPath map[dbus.ObjectPath][]string
}

func NewWatcher(conn *dbus.Conn, cfg WatcherConfig) *Watcher {
	cfg.ApplyDefaults()
	return &Watcher{
		conn:       conn,
		cfg:        cfg,
		adapter:    conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+cfg.Adapter)),
		addrByPath: make(map[dbus.ObjectPath]string),
		uuidByPath: make(map[dbus.ObjectPath][]string),
	}
}

func (w *Watcher) Start(out chan<- *domain.Advertisement) error {
	// Claim the started flag before any bus registration so a concurrent
	// Start cannot double-register the matches.
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("bluez watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	unclaim := func() {
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())

	addedMatch := []dbus.MatchOption{
		dbus.WithMatchInterface(omIface),
		dbus.WithMatchMember("InterfacesAdded"),
	}
	changedMatch := []dbus.MatchOption{
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceIface),
	}
	if err := w.conn.AddMatchSignal(addedMatch...); err != nil {
		cancel()
		unclaim()
		return errors.Wrap(err, "match InterfacesAdded")
	}
	if err := w.conn.AddMatchSignal(changedMatch...); err != nil {
		cancel()
		_ = w.conn.RemoveMatchSignal(addedMatch...)
		unclaim()
		return errors.Wrap(err, "match PropertiesChanged")
	}

	sigCh := make(chan *dbus.Signal, 64)
	w.conn.Signal(sigCh)

	if err := w.adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0,
		map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}).Err; err != nil {
		w.cleanupOnError(cancel, sigCh, addedMatch, changedMatch)
		unclaim()
		return errors.Wrap(err, "set discovery filter")
	}
	if err := w.adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil {
		w.cleanupOnError(cancel, sigCh, addedMatch, changedMatch)
		unclaim()
		return errors.Wrap(err, "start discovery")
	}

	w.mu.Lock()
	w.cancel = cancel
	w.sigCh = sigCh
	w.mu.Unlock()

	// Devices bluetoothd already knows only emit PropertiesChanged, so seed
	// the path -> address map from the object tree before consuming.
	w.seedKnownDevices(ctx, out)

	w.wg.Add(1)
	go w.consume(ctx, sigCh, out)
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	sigCh := w.sigCh
	w.started = false
	w.cancel = nil
	w.sigCh = nil
	w.mu.Unlock()

	err := w.adapter.Call(adapterIface+".StopDiscovery", 0).Err
	if cancel != nil {
		cancel()
	}
	w.conn.RemoveSignal(sigCh)
	_ = w.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(omIface),
		dbus.WithMatchMember("InterfacesAdded"),
	)
	_ = w.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceIface),
	)

	w.wg.Wait()
	if err != nil {
		return errors.Wrap(err, "stop discovery")
	}
	return nil
}

func (w *Watcher) consume(ctx context.Context, ch <-chan *dbus.Signal, out chan<- *domain.Advertisement) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			if sig == nil {
				continue
			}
			var adv *domain.Advertisement
			switch sig.Name {
			case omIface + ".InterfacesAdded":
				adv = w.parseInterfacesAdded(sig)
			case propsIface + ".PropertiesChanged":
				adv = w.parsePropertiesChanged(sig)
			}
			if adv == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- adv:
			}
		}
	}
}

// parseInterfacesAdded handles a newly discovered device. Missing or oddly
// typed properties make the event useless, not fatal.
func (w *Watcher) parseInterfacesAdded(sig *dbus.Signal) *domain.Advertisement {
	if len(sig.Body) < 2 {
		return nil
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return nil
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return nil
	}
	props, ok := ifaces[deviceIface]
	if !ok {
		return nil
	}
	return w.deviceProps(path, props)
}

// parsePropertiesChanged handles RSSI updates for devices already seen. The
// changed set rarely carries UUIDs, so the cached advertisement data fills
// the gap.
func (w *Watcher) parsePropertiesChanged(sig *dbus.Signal) *domain.Advertisement {
	if len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return nil
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	w.mu.Lock()
	addr := w.addrByPath[sig.Path]
	uuids := w.uuidByPath[sig.Path]
	w.mu.Unlock()
	if addr == "" {
		return nil
	}

	adv := &domain.Advertisement{Address: addr, UUIDs: uuids}
	if v, ok := changed["UUIDs"]; ok {
		if u, ok := v.Value().([]string); ok {
			adv.UUIDs = u
			w.mu.Lock()
			w.uuidByPath[sig.Path] = u
			w.mu.Unlock()
		}
	}
	if v, ok := changed["RSSI"]; ok {
		if r, ok := v.Value().(int16); ok {
			adv.RSSI = r
			adv.HasRSSI = true
		}
	}
	return adv
}

func (w *Watcher) deviceProps(path dbus.ObjectPath, props map[string]dbus.Variant) *domain.Advertisement {
	addrVar, ok := props["Address"]
	if !ok {
		return nil
	}
	addr, ok := addrVar.Value().(string)
	if !ok || addr == "" {
		return nil
	}

	adv := &domain.Advertisement{Address: addr}
	if v, ok := props["UUIDs"]; ok {
		if u, ok := v.Value().([]string); ok {
			adv.UUIDs = u
		}
	}
	if v, ok := props["RSSI"]; ok {
		if r, ok := v.Value().(int16); ok {
			adv.RSSI = r
			adv.HasRSSI = true
		}
	}

	w.mu.Lock()
	w.addrByPath[path] = addr
	if len(adv.UUIDs) > 0 {
		w.uuidByPath[path] = adv.UUIDs
	}
	w.mu.Unlock()
	return adv
}

func (w *Watcher) seedKnownDevices(ctx context.Context, out chan<- *domain.Advertisement) {
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := w.conn.Object(bluezService, "/")
	if err := root.CallWithContext(ctx, omIface+".GetManagedObjects", 0).Store(&managed); err != nil {
		return
	}
	for path, ifaces := range managed {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		adv := w.deviceProps(path, props)
		if adv == nil {
			continue
		}
		select {
		case out <- adv:
		default:
			// full buffer during seeding is fine, live signals follow
		}
	}
}

func (w *Watcher) cleanupOnError(cancel context.CancelFunc, sigCh chan *dbus.Signal, matches ...[]dbus.MatchOption) {
	cancel()
	w.conn.RemoveSignal(sigCh)
	for _, m := range matches {
		_ = w.conn.RemoveMatchSignal(m...)
	}
}

var _ ports.AdvertisementSource = (*Watcher)(nil)
