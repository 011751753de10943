package signature

import "github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"

// Backend is an opaque signing capability over a single Ed25519 key, in the spirit of
// `crypto.Signer`. The interface only ever allows signing, never revealing the key.
//
// Implementations must be safe for concurrent use by multiple goroutines. Backends that
// talk to a device which cannot process requests in parallel must serialize access
// internally.
type Backend interface {
	// Public returns the public key corresponding to the backend's private key.
	Public() ed25519.PublicKey

	// Sign generates a deterministic signature with the private key over the exact message
	// bytes. It may block on device or network I/O and must not be retried by callers.
	Sign(message []byte) (ed25519.Signature, error)

	// String returns the string representation of a Backend, which MUST not
	// include any sensitive information.
	String() string

	// Reset tears down the Backend and obliterates any sensitive state if any.
	Reset()
}
