package file

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/oasisprotocol/deoxysii"
	"github.com/oasisprotocol/oasis-core/go/common/cbor"

	"github.com/oasisprotocol/oasis-kms/backend"
)

const (
	// keyFileVersion is the version of the sealed key file format.
	keyFileVersion = 1

	sealKeySize   = 32
	sealSaltSize  = 32
	sealNonceSize = deoxysii.NonceSize

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4

	// Bounds on the parameters accepted from a key file.
	maxArgon2Time    = 4 * argon2Time
	maxArgon2Memory  = 4 * argon2Memory
	maxArgon2Threads = 4 * argon2Threads
)

var (
	// errOpenState is returned for any failure to open a sealed key so that a wrong passphrase
	// is indistinguishable from a corrupted file.
	errOpenState = errors.New("file: failed to open key file (maybe incorrect passphrase?)")

	errUnsupportedVersion = errors.New("file: unsupported key file version")
)

// keyState is the plaintext content of a key file.
type keyState struct {
	// Kind is the import kind of the key material.
	Kind backend.ImportKind `json:"kind"`

	// Data is the base64-encoded key material.
	Data string `json:"data"`
}

// sealedKey is the on-disk form of a key file.
type sealedKey struct {
	Header     sealedKeyHeader `json:"header"`
	Ciphertext []byte          `json:"ciphertext"`
}

// sealedKeyHeader is authenticated together with the ciphertext.
type sealedKeyHeader struct {
	Version uint16       `json:"version"`
	Argon2  argon2Params `json:"argon2"`
	Nonce   []byte       `json:"nonce"`
}

type argon2Params struct {
	Salt    []byte `json:"salt"`
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

func (h *sealedKeyHeader) newAEAD(passphrase string) (cipher.AEAD, error) {
	p := &h.Argon2
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 || len(p.Salt) == 0 {
		return nil, errOpenState
	}
	if p.Time > maxArgon2Time || p.Memory > maxArgon2Memory || p.Threads > maxArgon2Threads {
		return nil, errOpenState
	}

	key := argon2.IDKey([]byte(passphrase), p.Salt, p.Time, p.Memory, p.Threads, sealKeySize)
	defer zero(key)

	return deoxysii.New(key)
}

// seal encrypts the key state under a key derived from the passphrase.
func seal(state *keyState, passphrase string) (*sealedKey, error) {
	sk := &sealedKey{
		Header: sealedKeyHeader{
			Version: keyFileVersion,
			Argon2: argon2Params{
				Salt:    make([]byte, sealSaltSize),
				Time:    argon2Time,
				Memory:  argon2Memory,
				Threads: argon2Threads,
			},
			Nonce: make([]byte, sealNonceSize),
		},
	}
	if _, err := rand.Read(sk.Header.Argon2.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(sk.Header.Nonce); err != nil {
		return nil, err
	}

	aead, err := sk.Header.newAEAD(passphrase)
	if err != nil {
		return nil, err
	}

	pt := cbor.Marshal(state)
	defer zero(pt)

	sk.Ciphertext = aead.Seal(nil, sk.Header.Nonce, pt, cbor.Marshal(sk.Header))
	return sk, nil
}

// open decrypts the key state with a key derived from the passphrase.
func (sk *sealedKey) open(passphrase string) (*keyState, error) {
	if sk.Header.Version != keyFileVersion {
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, sk.Header.Version)
	}
	if len(sk.Header.Nonce) != sealNonceSize {
		return nil, errOpenState
	}

	aead, err := sk.Header.newAEAD(passphrase)
	if err != nil {
		return nil, errOpenState
	}
	pt, err := aead.Open(nil, sk.Header.Nonce, sk.Ciphertext, cbor.Marshal(sk.Header))
	if err != nil {
		return nil, errOpenState
	}
	defer zero(pt)

	var state keyState
	if err = cbor.Unmarshal(pt, &state); err != nil {
		return nil, errOpenState
	}
	return &state, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
