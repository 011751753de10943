// Package ed25519 contains the Ed25519 public key and signature value types.
package ed25519

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	voiEd25519 "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/oasisprotocol/oasis-core/go/common/cbor"
	"github.com/oasisprotocol/oasis-core/go/common/crypto/signature"
)

const (
	// PublicKeySize is the size of an Ed25519 public key in bytes.
	PublicKeySize = voiEd25519.PublicKeySize
	// SignatureSize is the size of an Ed25519 signature in bytes.
	SignatureSize = voiEd25519.SignatureSize
	// SeedSize is the size of an Ed25519 private key seed in bytes.
	SeedSize = voiEd25519.SeedSize
	// PrivateKeySize is the size of an expanded (seed || public key) private key in bytes.
	PrivateKeySize = voiEd25519.PrivateKeySize
)

var (
	// ErrMalformedKey is the error returned when key bytes do not decode to a valid key.
	ErrMalformedKey = errors.New("ed25519: malformed key")

	// ErrMalformedSignature is the error returned when signature bytes are malformed.
	ErrMalformedSignature = fmt.Errorf("%w: malformed signature", ErrMalformedKey)
)

var (
	_ encoding.BinaryMarshaler   = PublicKey{}
	_ encoding.BinaryUnmarshaler = (*PublicKey)(nil)
	_ encoding.TextMarshaler     = PublicKey{}
	_ encoding.TextUnmarshaler   = (*PublicKey)(nil)
)

// PublicKey is an Ed25519 public key.
type PublicKey signature.PublicKey

type serializedPublicKey struct {
	Ed25519 signature.PublicKey `json:"ed25519"`
}

func (pk PublicKey) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(serializedPublicKey{Ed25519: signature.PublicKey(pk)}), nil
}

func (pk *PublicKey) UnmarshalCBOR(data []byte) error {
	var s serializedPublicKey
	if err := cbor.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return pk.UnmarshalBinary(s.Ed25519[:])
}

func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(serializedPublicKey{Ed25519: signature.PublicKey(pk)})
}

func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s serializedPublicKey
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return pk.UnmarshalBinary(s.Ed25519[:])
}

// MarshalBinary encodes a public key into binary form.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	return append([]byte{}, pk[:]...), nil
}

// UnmarshalBinary decodes a binary marshaled public key.
//
// The bytes must be exactly PublicKeySize long and must decompress to a point on the curve.
func (pk *PublicKey) UnmarshalBinary(data []byte) error {
	if len(data) != PublicKeySize {
		return fmt.Errorf("%w: invalid length %d", ErrMalformedKey, len(data))
	}
	if _, err := voiEd25519.NewExpandedPublicKey(voiEd25519.PublicKey(data)); err != nil {
		return fmt.Errorf("%w: not a curve point", ErrMalformedKey)
	}

	copy(pk[:], data)
	return nil
}

// MarshalText encodes a public key into text form.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(pk[:])), nil
}

// UnmarshalText decodes a text marshaled public key.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	b, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedKey, err)
	}
	return pk.UnmarshalBinary(b)
}

// String returns a string representation of the public key.
func (pk PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(pk[:])
}

// Equal compares vs another public key for equality.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk == other
}

// IsValid returns true iff the public key is a valid point on the curve.
func (pk PublicKey) IsValid() bool {
	_, err := voiEd25519.NewExpandedPublicKey(voiEd25519.PublicKey(pk[:]))
	return err == nil
}

// Verify returns true iff the signature is valid for the public key over the exact message bytes.
func (pk PublicKey) Verify(message []byte, sig Signature) bool {
	return voiEd25519.Verify(voiEd25519.PublicKey(pk[:]), message, sig[:])
}

// VerifyRaw is like Verify but takes the signature as raw bytes. Malformed signatures never verify.
func (pk PublicKey) VerifyRaw(message, rawSig []byte) bool {
	var sig Signature
	if err := sig.UnmarshalBinary(rawSig); err != nil {
		return false
	}
	return pk.Verify(message, sig)
}

// NewPublicKey creates a new public key from the given Base64 representation or
// panics.
func NewPublicKey(text string) (pk PublicKey) {
	if err := pk.UnmarshalText([]byte(text)); err != nil {
		panic(err)
	}
	return
}

// NewPublicKeyFromBytes creates a new public key from its binary representation.
func NewPublicKeyFromBytes(data []byte) (PublicKey, error) {
	var pk PublicKey
	if err := pk.UnmarshalBinary(data); err != nil {
		return PublicKey{}, err
	}
	return pk, nil
}
