package domain

import (
	"fmt"
	"strconv"
)

// NodeIdentity is the credential assigned when the node was provisioned into
// the mesh. It never changes for the operational lifetime of the node.
type NodeIdentity struct {
	Token uint64
}

// ParseToken parses the 16-hex-digit token handed out by the provisioner.
func ParseToken(s string) (NodeIdentity, error) {
	if len(s) != 16 {
		return NodeIdentity{}, fmt.Errorf("token must be 16 hex digits, got %d", len(s))
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return NodeIdentity{}, fmt.Errorf("token is not a valid hexadecimal number: %w", err)
	}
	return NodeIdentity{Token: v}, nil
}

// String renders the token the way the provisioner printed it.
func (n NodeIdentity) String() string {
	return fmt.Sprintf("%016x", n.Token)
}
