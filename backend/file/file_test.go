package file

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/oasis-core/go/common/cbor"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
	kmsTesting "github.com/oasisprotocol/oasis-kms/testing"
)

func TestFileFactory(t *testing.T) {
	require := require.New(t)

	bf, err := backend.Load(Kind)
	require.NoError(err)
	require.Equal(Kind, bf.Kind())
	require.Equal(signature.ProviderSoftwareEd25519, bf.Provider())
	require.True(bf.RequiresPassphrase())
	require.ElementsMatch([]backend.ImportKind{backend.ImportKindSeed, backend.ImportKindPrivateKey}, bf.SupportedImportKinds())

	dir := t.TempDir()
	cfg := map[string]interface{}{"dir": dir}

	_, err = bf.Create("validator", "passphrase", cfg)
	require.ErrorIs(err, backend.ErrUnsupported)

	src := &backend.ImportSource{
		Kind: backend.ImportKindSeed,
		Data: base64.StdEncoding.EncodeToString(kmsTesting.Alice.Seed),
	}
	signer, err := bf.Import("validator", "correct horse", cfg, src)
	require.NoError(err)
	require.True(signer.PublicKey().Equal(kmsTesting.Alice.PublicKey))
	signer.Close()

	fi, err := os.Stat(filepath.Join(dir, "validator.key"))
	require.NoError(err)
	require.Equal(os.FileMode(0o600), fi.Mode().Perm())

	// The sealed file must not contain the key material in any obvious form.
	raw, err := os.ReadFile(filepath.Join(dir, "validator.key"))
	require.NoError(err)
	require.False(strings.Contains(string(raw), src.Data))

	_, err = bf.Import("validator", "correct horse", cfg, src)
	require.Error(err, "importing over an existing key should fail")

	signer, err = bf.Load("validator", "correct horse", cfg)
	require.NoError(err)
	msg := []byte("vote:height=10,round=0")
	sig, err := signer.Sign(msg)
	require.NoError(err)
	require.True(kmsTesting.Alice.PublicKey.Verify(msg, sig))
	signer.Close()

	_, err = bf.Load("validator", "battery staple", cfg)
	require.ErrorIs(err, errOpenState)
	require.NotContains(err.Error(), src.Data)

	err = bf.Rename("validator", "validator2", cfg)
	require.NoError(err)
	_, err = bf.Load("validator", "correct horse", cfg)
	require.Error(err)
	signer, err = bf.Load("validator2", "correct horse", cfg)
	require.NoError(err)
	signer.Close()

	err = bf.Remove("validator2", cfg)
	require.NoError(err)
	_, err = os.Stat(filepath.Join(dir, "validator2.key"))
	require.True(os.IsNotExist(err))
}

func TestFileRenameExisting(t *testing.T) {
	require := require.New(t)

	bf, err := backend.Load(Kind)
	require.NoError(err)
	dir := t.TempDir()
	cfg := map[string]interface{}{"dir": dir}

	for name, key := range map[string]kmsTesting.TestKey{"alice": kmsTesting.Alice, "bob": kmsTesting.Bob} {
		signer, err := bf.Import(name, "passphrase", cfg, &backend.ImportSource{
			Kind: backend.ImportKindSeed,
			Data: base64.StdEncoding.EncodeToString(key.Seed),
		})
		require.NoError(err)
		signer.Close()
	}

	err = bf.Rename("alice", "bob", cfg)
	require.Error(err)

	// Both keys must be intact.
	for name, key := range map[string]kmsTesting.TestKey{"alice": kmsTesting.Alice, "bob": kmsTesting.Bob} {
		signer, err := bf.Load(name, "passphrase", cfg)
		require.NoError(err, name)
		require.True(signer.PublicKey().Equal(key.PublicKey), name)
		signer.Close()
	}

	_, err = os.Stat(filepath.Join(dir, "alice.key"))
	require.NoError(err)
}

func TestFileImportPrivateKey(t *testing.T) {
	require := require.New(t)

	bf, err := backend.Load(Kind)
	require.NoError(err)
	cfg := map[string]interface{}{"dir": t.TempDir()}

	raw := append(append([]byte{}, kmsTesting.Bob.Seed...), kmsTesting.Bob.PublicKey[:]...)
	signer, err := bf.Import("bob", "passphrase", cfg, &backend.ImportSource{
		Kind: backend.ImportKindPrivateKey,
		Data: base64.StdEncoding.EncodeToString(raw),
	})
	require.NoError(err)
	require.True(signer.PublicKey().Equal(kmsTesting.Bob.PublicKey))
	signer.Close()

	mismatched := append(append([]byte{}, kmsTesting.Bob.Seed...), kmsTesting.Alice.PublicKey[:]...)
	_, err = bf.Import("mismatched", "passphrase", cfg, &backend.ImportSource{
		Kind: backend.ImportKindPrivateKey,
		Data: base64.StdEncoding.EncodeToString(mismatched),
	})
	require.ErrorIs(err, signature.ErrKeyMismatch)
}

func TestFileImportMalformed(t *testing.T) {
	require := require.New(t)

	bf, err := backend.Load(Kind)
	require.NoError(err)
	dir := t.TempDir()
	cfg := map[string]interface{}{"dir": dir}

	for _, tc := range []struct {
		kind backend.ImportKind
		data string
	}{
		{backend.ImportKindSeed, "not base64!"},
		{backend.ImportKindSeed, base64.StdEncoding.EncodeToString(make([]byte, ed25519.SeedSize-1))},
		{backend.ImportKindSeed, base64.StdEncoding.EncodeToString(make([]byte, ed25519.PrivateKeySize))},
		{backend.ImportKindPrivateKey, base64.StdEncoding.EncodeToString(make([]byte, ed25519.SeedSize))},
	} {
		_, err = bf.Import("malformed", "passphrase", cfg, &backend.ImportSource{Kind: tc.kind, Data: tc.data})
		require.ErrorIs(err, ed25519.ErrMalformedKey, "kind %s data %s", tc.kind, tc.data)

		validator := bf.DataValidator(tc.kind, cfg)
		require.Error(validator(tc.data))
	}

	_, err = bf.Import("malformed", "passphrase", cfg, &backend.ImportSource{Kind: "mnemonic", Data: "abandon"})
	require.Error(err)

	// Nothing should have been written.
	entries, err := os.ReadDir(dir)
	require.NoError(err)
	require.Empty(entries)
}

func TestSealedKey(t *testing.T) {
	require := require.New(t)

	state := &keyState{
		Kind: backend.ImportKindSeed,
		Data: base64.StdEncoding.EncodeToString(kmsTesting.Charlie.Seed),
	}
	sk, err := seal(state, "passphrase")
	require.NoError(err)
	require.EqualValues(keyFileVersion, sk.Header.Version)
	require.Len(sk.Header.Nonce, sealNonceSize)
	require.Len(sk.Header.Argon2.Salt, sealSaltSize)

	opened, err := sk.open("passphrase")
	require.NoError(err)
	require.Equal(state, opened)

	_, err = sk.open("wrong")
	require.ErrorIs(err, errOpenState)

	// Round trip through the on-disk encoding.
	var decoded sealedKey
	require.NoError(cbor.Unmarshal(cbor.Marshal(sk), &decoded))
	opened, err = decoded.open("passphrase")
	require.NoError(err)
	require.Equal(state, opened)

	for _, tc := range []struct {
		name   string
		tamper func(*sealedKey)
		err    error
	}{
		{"ciphertext", func(sk *sealedKey) { sk.Ciphertext[0] ^= 0xff }, errOpenState},
		{"weakened kdf", func(sk *sealedKey) { sk.Header.Argon2.Memory = 1024 }, errOpenState},
		{"missing kdf", func(sk *sealedKey) { sk.Header.Argon2 = argon2Params{} }, errOpenState},
		{"excessive memory", func(sk *sealedKey) { sk.Header.Argon2.Memory = 1 << 30 }, errOpenState},
		{"excessive time", func(sk *sealedKey) { sk.Header.Argon2.Time = 1 << 20 }, errOpenState},
		{"excessive threads", func(sk *sealedKey) { sk.Header.Argon2.Threads = 255 }, errOpenState},
		{"nonce", func(sk *sealedKey) { sk.Header.Nonce = sk.Header.Nonce[:4] }, errOpenState},
		{"version", func(sk *sealedKey) { sk.Header.Version = 2 }, errUnsupportedVersion},
	} {
		var tampered sealedKey
		require.NoError(cbor.Unmarshal(cbor.Marshal(sk), &tampered))
		tc.tamper(&tampered)

		_, err = tampered.open("passphrase")
		require.ErrorIs(err, tc.err, tc.name)
	}
}
