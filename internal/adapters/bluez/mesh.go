package bluez

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

const (
	meshService = "org.bluez.mesh"
	meshPath    = dbus.ObjectPath("/org/bluez/mesh")

	networkIface     = "org.bluez.mesh.Network1"
	nodeIface        = "org.bluez.mesh.Node1"
	applicationIface = "org.bluez.mesh.Application1"
	elementIface     = "org.bluez.mesh.Element1"
)

// Company/product identifiers reported by the exported application object.
const (
	companyID = 0x05f1
	productID = 0x0001
	versionID = 0x0001
)

// MeshConfig describes where relayed messages go on the mesh.
type MeshConfig struct {
	AppPath     string `yaml:"app_path"`
	Destination uint16 `yaml:"destination"`
	AppIndex    uint16 `yaml:"app_index"`
	ModelID     uint16 `yaml:"model_id"`
}

func (c *MeshConfig) ApplyDefaults() {
	if c.AppPath == "" {
		c.AppPath = "/meshbeacon"
	}
	if c.ModelID == 0 {
		c.ModelID = 0x0001
	}
}

func (c *MeshConfig) Validate() error {
	if c.Destination == 0 {
		return fmt.Errorf("destination address is required")
	}
	return nil
}

// MeshSession attaches to bluetooth-meshd as a provisioned node and sends
// vendor-model messages through it. One session per relay phase; the daemon
// forgets the attachment when the mesh unit is stopped, so Open is cheap to
// repeat every cycle.
type MeshSession struct {
	conn *dbus.Conn
	cfg  MeshConfig

	mu       sync.Mutex
	node     dbus.BusObject
	elemPath dbus.ObjectPath
	opened   bool
	exported bool
}

func NewMeshSession(conn *dbus.Conn, cfg MeshConfig) *MeshSession {
	cfg.ApplyDefaults()
	return &MeshSession{conn: conn, cfg: cfg}
}

func (s *MeshSession) Open(ctx context.Context, identity domain.NodeIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("mesh session already open")
	}

	appPath := dbus.ObjectPath(s.cfg.AppPath)
	elemPath := dbus.ObjectPath(s.cfg.AppPath + "/ele00")

	if !s.exported {
		app := &meshApp{appPath: appPath, elemPath: elemPath, modelID: s.cfg.ModelID}
		if err := s.conn.Export(app, appPath, omIface); err != nil {
			return errors.Wrap(err, "export application")
		}
		if err := s.conn.Export(&meshElement{}, elemPath, elementIface); err != nil {
			return errors.Wrap(err, "export element")
		}
		s.exported = true
	}

	network := s.conn.Object(meshService, meshPath)
	var (
		nodePath      dbus.ObjectPath
		configuration [][]interface{}
	)
	call := network.CallWithContext(ctx, networkIface+".Attach", 0, appPath, identity.Token)
	if call.Err != nil {
		return errors.Wrap(call.Err, "attach node")
	}
	if err := call.Store(&nodePath, &configuration); err != nil {
		return errors.Wrap(err, "attach reply")
	}

	s.node = s.conn.Object(meshService, nodePath)
	s.elemPath = elemPath
	s.opened = true
	return nil
}

// Send frames the payload as a 2-byte big-endian kind followed by the body
// and hands it to the node's vendor model.
func (s *MeshSession) Send(ctx context.Context, kind ports.MessageKind, payload []byte) error {
	s.mu.Lock()
	node := s.node
	elemPath := s.elemPath
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return fmt.Errorf("mesh session not open")
	}

	data := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(data[:2], uint16(kind))
	copy(data[2:], payload)

	options := map[string]dbus.Variant{
		"ForceSegmented": dbus.MakeVariant(true),
	}
	call := node.CallWithContext(ctx, nodeIface+".Send", 0,
		elemPath, s.cfg.Destination, s.cfg.AppIndex, options, data)
	if call.Err != nil {
		return errors.Wrap(call.Err, "mesh send")
	}
	return nil
}

func (s *MeshSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node = nil
	s.opened = false
	return nil
}

// meshApp is the org.bluez.mesh application object the daemon introspects on
// Attach. It reports one element carrying the vendor model.
type meshApp struct {
	appPath  dbus.ObjectPath
	elemPath dbus.ObjectPath
	modelID  uint16
}

// modelRef and vendorModelRef marshal as the (qa{sv}) and (qqa{sv}) structs
// bluetooth-meshd expects in the element's Models and VendorModels
// properties. The daemon rejects any other signature during Attach.
type modelRef struct {
	ID      uint16
	Options map[string]dbus.Variant
}

type vendorModelRef struct {
	Company uint16
	ID      uint16
	Options map[string]dbus.Variant
}

func (a *meshApp) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	vendorModels := []vendorModelRef{
		{Company: companyID, ID: a.modelID, Options: map[string]dbus.Variant{}},
	}
	return map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		a.appPath: {
			applicationIface: {
				"CompanyID": dbus.MakeVariant(uint16(companyID)),
				"ProductID": dbus.MakeVariant(uint16(productID)),
				"VersionID": dbus.MakeVariant(uint16(versionID)),
			},
		},
		a.elemPath: {
			elementIface: {
				"Index":        dbus.MakeVariant(byte(0)),
				"Models":       dbus.MakeVariant([]modelRef{}),
				"VendorModels": dbus.MakeVariant(vendorModels),
			},
		},
	}, nil
}

// meshElement receives inbound mesh traffic. The node only transmits, so
// deliveries are dropped.
type meshElement struct{}

func (e *meshElement) MessageReceived(source uint16, key uint16, destination dbus.Variant, data []byte) *dbus.Error {
	return nil
}

func (e *meshElement) UpdateModelConfiguration(modelID uint16, config map[string]dbus.Variant) *dbus.Error {
	return nil
}

var _ ports.MeshSession = (*MeshSession)(nil)
