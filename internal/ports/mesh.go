package ports

import (
	"context"

	"meshbeacon/internal/domain"
)

// MessageKind is the 2-byte opcode prepended to every relayed payload.
type MessageKind uint16

const (
	MessageKindObservation MessageKind = 0x0001
	MessageKindSensor      MessageKind = 0x0002
)

// MeshSession is the transport the relay phase speaks through. The mesh
// implementation attaches to the daemon under the node token; alternative
// transports authenticate however they like.
type MeshSession interface {
	Open(ctx context.Context, identity domain.NodeIdentity) error
	Send(ctx context.Context, kind MessageKind, payload []byte) error
	Close() error
}
