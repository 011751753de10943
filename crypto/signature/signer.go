// Package signature contains the consensus Signer and the signing backend abstraction.
package signature

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oasisprotocol/oasis-core/go/common/logging"

	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

var (
	// ErrSigningFailure is the error returned when the backend could not produce a signature.
	ErrSigningFailure = errors.New("signature: signing failure")

	// ErrKeyMismatch is the error returned when a public key does not correspond to the
	// backend's private key.
	ErrKeyMismatch = errors.New("signature: public key does not match backend")

	// ErrInvalidProvider is the error returned for an unknown signing provider.
	ErrInvalidProvider = errors.New("signature: invalid provider")

	// ErrSignerClosed is the error returned when using a closed signer.
	ErrSignerClosed = errors.New("signature: signer closed")
)

var logger = logging.GetLogger("kms/signature")

// backendHandle is the reference counted owner of a backend shared by all clones of a Signer.
//
// Taking a reference never locks. The lock only excludes the final teardown from signs in
// flight, so the write side is taken once per handle.
type backendHandle struct {
	l sync.RWMutex

	backend  Backend
	torndown bool

	refs atomic.Int64
}

// acquire takes another reference unless the handle has already been released.
func (h *backendHandle) acquire() bool {
	for {
		refs := h.refs.Load()
		if refs <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

func (h *backendHandle) release() {
	if h.refs.Add(-1) > 0 {
		return
	}

	h.l.Lock()
	defer h.l.Unlock()

	if h.backend != nil {
		h.backend.Reset()
		h.backend = nil
	}
	h.torndown = true
}

// Signer binds a signing provider, the consensus identity and a shared signing backend.
//
// A Signer is safe for concurrent use. Clone returns another Signer sharing the same backend
// without duplicating any secret material; the backend is torn down once every clone has been
// closed.
type Signer struct {
	provider Provider
	identity Identity

	handle *backendHandle
	closed atomic.Bool

	logger *logging.Logger
}

// New creates a new signer.
//
// The caller must ensure that backend is non-nil and that publicKey is the public counterpart
// of the backend's private key. Use NewVerified when the pairing has not been established by
// the caller. Signing with a nil backend fails with ErrSigningFailure.
func New(provider Provider, publicKey ed25519.PublicKey, backend Backend) *Signer {
	handle := &backendHandle{
		backend: backend,
	}
	handle.refs.Store(1)
	return newSigner(provider, NewConsensusIdentity(publicKey), handle)
}

// NewVerified creates a new signer after checking that the provider is valid and that the
// backend holds the private key corresponding to publicKey.
func NewVerified(provider Provider, publicKey ed25519.PublicKey, backend Backend) (*Signer, error) {
	if !provider.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProvider, uint8(provider))
	}
	if backend == nil {
		return nil, fmt.Errorf("signature: missing backend")
	}
	if !publicKey.IsValid() {
		return nil, fmt.Errorf("signature: %w", ed25519.ErrMalformedKey)
	}
	if actual := backend.Public(); !actual.Equal(publicKey) {
		return nil, fmt.Errorf("%w (expected: %s got: %s)", ErrKeyMismatch, publicKey, actual)
	}

	return New(provider, publicKey, backend), nil
}

func newSigner(provider Provider, identity Identity, handle *backendHandle) *Signer {
	return &Signer{
		provider: provider,
		identity: identity,
		handle:   handle,
		logger: logger.With(
			"provider", provider.String(),
			"public_key", identity.PublicKey().String(),
		),
	}
}

// Provider returns the provider of the backend bound to this signer.
func (s *Signer) Provider() Provider {
	return s.provider
}

// Identity returns the consensus identity of this signer.
func (s *Signer) Identity() Identity {
	return s.identity
}

// PublicKey returns the public key of this signer.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.identity.PublicKey()
}

// Sign signs the exact message bytes with the backend's private key.
//
// Every call reaches the backend exactly once. Backend failures are returned wrapped in
// ErrSigningFailure and are never retried.
func (s *Signer) Sign(message []byte) (ed25519.Signature, error) {
	if s.closed.Load() {
		return ed25519.Signature{}, ErrSignerClosed
	}

	// The read lock only excludes backend teardown, concurrent signing is not serialized.
	s.handle.l.RLock()
	defer s.handle.l.RUnlock()

	backend := s.handle.backend
	switch {
	case s.handle.torndown:
		return ed25519.Signature{}, ErrSignerClosed
	case backend == nil:
		return ed25519.Signature{}, fmt.Errorf("%w: missing backend", ErrSigningFailure)
	}

	start := time.Now()
	sig, err := backend.Sign(message)
	observeSign(s.provider, start, err)
	if err != nil {
		s.logger.Error("failed to sign message",
			"err", err,
		)
		return ed25519.Signature{}, fmt.Errorf("%w: %w", ErrSigningFailure, err)
	}

	return sig, nil
}

// Clone returns a new signer sharing the backend of this signer.
//
// Cloning a closed signer returns a closed signer.
func (s *Signer) Clone() *Signer {
	clone := newSigner(s.provider, s.identity, s.handle)
	if s.closed.Load() || !s.handle.acquire() {
		clone.closed.Store(true)
	}
	return clone
}

// Close releases this signer's reference to the backend. The backend is reset once the last
// reference is released. Closing a signer more than once has no effect.
func (s *Signer) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.handle.release()
}

// String returns the string representation of the signer, which does not include any
// sensitive information.
func (s *Signer) String() string {
	return fmt.Sprintf("[%s signer: %s]", s.provider, s.identity.PublicKey())
}

// GoString returns the same representation as String.
func (s *Signer) GoString() string {
	return s.String()
}
