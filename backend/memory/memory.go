// Package memory implements the in-memory Ed25519 signing backend.
package memory

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	voiEd25519 "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

var errReset = errors.New("memory: backend has been reset")

var _ signature.Backend = (*Backend)(nil)

// Backend is an Ed25519 backend holding the private key in process memory.
//
// The private key is kept as seed || public key so that signing does not re-derive the public
// half. The seed hash is recomputed on every signature.
type Backend struct {
	l sync.RWMutex

	privateKey voiEd25519.PrivateKey
	publicKey  ed25519.PublicKey
}

func newBackend(privateKey voiEd25519.PrivateKey) *Backend {
	var pk ed25519.PublicKey
	copy(pk[:], privateKey[ed25519.SeedSize:])

	return &Backend{
		privateKey: privateKey,
		publicKey:  pk,
	}
}

// NewFromSeed creates a new backend from a 32-byte RFC 8032 private key seed.
//
// The seed is copied, the caller remains responsible for clearing its own copy.
func NewFromSeed(seed []byte) (*Backend, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: invalid seed length %d", ed25519.ErrMalformedKey, len(seed))
	}
	return newBackend(voiEd25519.NewKeyFromSeed(seed)), nil
}

// NewFromPrivateKey creates a new backend from a 64-byte (seed || public key) private key.
//
// The public half must be the one derived from the seed, otherwise signature.ErrKeyMismatch
// is returned.
func NewFromPrivateKey(privateKey []byte) (*Backend, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: invalid private key length %d", ed25519.ErrMalformedKey, len(privateKey))
	}

	sk := voiEd25519.NewKeyFromSeed(privateKey[:ed25519.SeedSize])
	if !bytes.Equal(sk[ed25519.SeedSize:], privateKey[ed25519.SeedSize:]) {
		zero(sk)
		return nil, fmt.Errorf("memory: %w", signature.ErrKeyMismatch)
	}
	return newBackend(sk), nil
}

// NewSigner creates a new software Ed25519 signer from a private key seed.
func NewSigner(seed []byte) (*signature.Signer, error) {
	b, err := NewFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return signature.NewVerified(signature.ProviderSoftwareEd25519, b.Public(), b)
}

// Public implements signature.Backend.
func (b *Backend) Public() ed25519.PublicKey {
	return b.publicKey
}

// Sign implements signature.Backend.
func (b *Backend) Sign(message []byte) (ed25519.Signature, error) {
	b.l.RLock()
	defer b.l.RUnlock()

	if b.privateKey == nil {
		return ed25519.Signature{}, errReset
	}

	var sig ed25519.Signature
	copy(sig[:], voiEd25519.Sign(b.privateKey, message))
	return sig, nil
}

// String implements signature.Backend.
func (b *Backend) String() string {
	return "[redacted private key]"
}

// GoString returns the same redacted representation as String.
func (b *Backend) GoString() string {
	return b.String()
}

// Reset implements signature.Backend.
func (b *Backend) Reset() {
	b.l.Lock()
	defer b.l.Unlock()

	zero(b.privateKey)
	b.privateKey = nil
}

func zero(b []byte) {
	for idx := range b {
		b[idx] = 0
	}
}
