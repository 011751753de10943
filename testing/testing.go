// Package testing contains deterministic keys for tests and development setups.
package testing

import (
	"crypto/sha512"

	"github.com/oasisprotocol/oasis-kms/backend/memory"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

// TestKey is a key used for testing.
type TestKey struct {
	Seed      []byte
	PublicKey ed25519.PublicKey
	Identity  signature.Identity
}

// NewSigner returns a fresh software signer over the test key. The caller owns the returned
// signer and should close it when done.
func (k TestKey) NewSigner() *signature.Signer {
	signer, err := memory.NewSigner(k.Seed)
	if err != nil {
		panic(err)
	}
	return signer
}

// NewBackend returns a fresh in-memory backend over the test key.
func (k TestKey) NewBackend() *memory.Backend {
	b, err := memory.NewFromSeed(k.Seed)
	if err != nil {
		panic(err)
	}
	return b
}

func newTestKey(seed string) TestKey {
	sk := sha512.Sum512_256([]byte(seed))
	return newTestKeyFromSeed(sk[:])
}

func newTestKeyFromSeed(seed []byte) TestKey {
	b, err := memory.NewFromSeed(seed)
	if err != nil {
		panic(err)
	}
	defer b.Reset()

	return TestKey{
		Seed:      seed,
		PublicKey: b.Public(),
		Identity:  signature.NewConsensusIdentity(b.Public()),
	}
}

var (
	// Alice is the test key A.
	Alice = newTestKey("oasis-kms/test-keys: alice")
	// Bob is the test key B.
	Bob = newTestKey("oasis-kms/test-keys: bob")
	// Charlie is the test key C.
	Charlie = newTestKey("oasis-kms/test-keys: charlie")

	// RFC8032 is the key of the first Ed25519 test vector of RFC 8032, section 7.1.
	RFC8032 = newTestKeyFromSeed([]byte{
		0x9d, 0x61, 0xb1, 0x9d, 0xef, 0xfd, 0x5a, 0x60,
		0xba, 0x84, 0x4a, 0xf4, 0x92, 0xec, 0x2c, 0xc4,
		0x44, 0x49, 0xc5, 0x69, 0x7b, 0x32, 0x69, 0x19,
		0x70, 0x3b, 0xac, 0x03, 0x1c, 0xae, 0x7f, 0x60,
	})
)

// TestKeys is the map of all test keys by their name.
var TestKeys = map[string]TestKey{
	"alice":   Alice,
	"bob":     Bob,
	"charlie": Charlie,
	"rfc8032": RFC8032,
}
