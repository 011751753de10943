package ed25519

import (
	"encoding"
	"encoding/base64"
	"fmt"
)

var (
	_ encoding.BinaryMarshaler   = Signature{}
	_ encoding.BinaryUnmarshaler = (*Signature)(nil)
	_ encoding.TextMarshaler     = Signature{}
	_ encoding.TextUnmarshaler   = (*Signature)(nil)
)

// Signature is an Ed25519 signature.
type Signature [SignatureSize]byte

// MarshalBinary encodes a signature into binary form.
func (s Signature) MarshalBinary() ([]byte, error) {
	return append([]byte{}, s[:]...), nil
}

// UnmarshalBinary decodes a binary marshaled signature.
func (s *Signature) UnmarshalBinary(data []byte) error {
	if len(data) != SignatureSize {
		return fmt.Errorf("%w: invalid length %d", ErrMalformedSignature, len(data))
	}

	copy(s[:], data)
	return nil
}

// MarshalText encodes a signature into text form.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(s[:])), nil
}

// UnmarshalText decodes a text marshaled signature.
func (s *Signature) UnmarshalText(text []byte) error {
	b, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	return s.UnmarshalBinary(b)
}

// String returns a string representation of the signature.
func (s Signature) String() string {
	return base64.StdEncoding.EncodeToString(s[:])
}

// Equal compares vs another signature for equality.
func (s Signature) Equal(other Signature) bool {
	return s == other
}

// NewSignatureFromBytes creates a new signature from its binary representation.
func NewSignatureFromBytes(data []byte) (Signature, error) {
	var s Signature
	if err := s.UnmarshalBinary(data); err != nil {
		return Signature{}, err
	}
	return s, nil
}
