package signature

import (
	"encoding/json"
	"fmt"

	"github.com/oasisprotocol/oasis-core/go/common/cbor"

	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

// KeyRole is the role a public key is used for.
type KeyRole uint8

// Supported key roles.
const (
	// RoleConsensus marks a key used to sign consensus messages (votes, proposals).
	RoleConsensus KeyRole = 1
)

// String returns the string representation of the key role.
func (r KeyRole) String() string {
	switch r {
	case RoleConsensus:
		return "consensus"
	default:
		return fmt.Sprintf("[unknown role: %d]", uint8(r))
	}
}

// Identity is a public key tagged with the role it is used for.
//
// Identities are immutable values; equality is byte-exact over the key and the role.
type Identity struct {
	role      KeyRole
	publicKey ed25519.PublicKey
}

type serializedIdentity struct {
	Role      KeyRole           `json:"role"`
	PublicKey ed25519.PublicKey `json:"public_key"`
}

// NewConsensusIdentity tags the given public key as a consensus identity.
func NewConsensusIdentity(pk ed25519.PublicKey) Identity {
	return Identity{
		role:      RoleConsensus,
		publicKey: pk,
	}
}

// Role returns the role of the identity.
func (id Identity) Role() KeyRole {
	return id.role
}

// PublicKey returns the public key of the identity.
func (id Identity) PublicKey() ed25519.PublicKey {
	return id.publicKey
}

// IsConsensus returns true iff this is a consensus identity.
func (id Identity) IsConsensus() bool {
	return id.role == RoleConsensus
}

// Equal compares vs another identity for equality.
func (id Identity) Equal(other Identity) bool {
	return id.role == other.role && id.publicKey.Equal(other.publicKey)
}

// Verify returns true iff the signature is valid for the identity's key over the message.
func (id Identity) Verify(message []byte, sig ed25519.Signature) bool {
	return id.publicKey.Verify(message, sig)
}

// String returns a string representation of the identity.
func (id Identity) String() string {
	return fmt.Sprintf("%s:%s", id.role, id.publicKey)
}

func (id Identity) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(serializedIdentity{Role: id.role, PublicKey: id.publicKey}), nil
}

func (id *Identity) UnmarshalCBOR(data []byte) error {
	var s serializedIdentity
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	return id.fromSerialized(&s)
}

func (id Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(serializedIdentity{Role: id.role, PublicKey: id.publicKey})
}

func (id *Identity) UnmarshalJSON(data []byte) error {
	var s serializedIdentity
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return id.fromSerialized(&s)
}

func (id *Identity) fromSerialized(s *serializedIdentity) error {
	if s.Role != RoleConsensus {
		return fmt.Errorf("signature: unsupported key role %d", uint8(s.Role))
	}
	*id = Identity{
		role:      s.Role,
		publicKey: s.PublicKey,
	}
	return nil
}
