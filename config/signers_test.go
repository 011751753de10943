package config_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/backend/file"
	backendTest "github.com/oasisprotocol/oasis-kms/backend/test"
	"github.com/oasisprotocol/oasis-kms/config"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	kmsTesting "github.com/oasisprotocol/oasis-kms/testing"
)

func TestSignersTestKind(t *testing.T) {
	require := require.New(t)

	var signers config.Signers

	signer, err := signers.Create("validator", "", &config.Signer{
		Kind:   backendTest.Kind,
		Config: map[string]interface{}{"key": "alice"},
	})
	require.NoError(err)
	signer.Close()
	require.Equal("validator", signers.Default, "first signer should become the default")
	require.Equal(kmsTesting.Alice.PublicKey.String(), signers.All["validator"].PublicKey)
	require.NoError(signers.Validate())

	provider, err := signers.All["validator"].GetProvider()
	require.NoError(err)
	require.Equal(signature.ProviderSoftwareEd25519, provider)

	_, err = signers.Create("validator", "", &config.Signer{
		Kind:   backendTest.Kind,
		Config: map[string]interface{}{"key": "bob"},
	})
	require.Error(err, "duplicate names should be rejected")

	_, err = signers.Create("Bad Name", "", &config.Signer{
		Kind:   backendTest.Kind,
		Config: map[string]interface{}{"key": "bob"},
	})
	require.Error(err)

	signer, err = signers.Create("sentry", "", &config.Signer{
		Kind:   backendTest.Kind,
		Config: map[string]interface{}{"key": "bob"},
	})
	require.NoError(err)
	signer.Close()
	require.Equal("validator", signers.Default)

	signer, err = signers.Load("sentry", "")
	require.NoError(err)
	require.True(signer.PublicKey().Equal(kmsTesting.Bob.PublicKey))
	signer.Close()

	// Pointing the configuration at another key must be detected on load.
	signers.All["sentry"].Config["key"] = "charlie"
	_, err = signers.Load("sentry", "")
	require.ErrorIs(err, signature.ErrKeyMismatch)

	_, err = signers.Load("missing", "")
	require.Error(err)

	require.NoError(signers.SetDefault("sentry"))
	require.Equal("sentry", signers.Default)
	require.Error(signers.SetDefault("missing"))

	require.NoError(signers.Rename("sentry", "backup"))
	require.Equal("backup", signers.Default)
	require.NotContains(signers.All, "sentry")
	require.Error(signers.Rename("backup", "validator"))

	require.NoError(signers.Remove("backup"))
	require.Empty(signers.Default)
	require.Error(signers.Remove("backup"))
	require.Len(signers.All, 1)
}

func TestSignersFileKind(t *testing.T) {
	require := require.New(t)

	var signers config.Signers
	cfg := map[string]interface{}{"dir": t.TempDir()}

	_, err := signers.Create("validator", "passphrase", &config.Signer{
		Kind:   file.Kind,
		Config: cfg,
	})
	require.ErrorIs(err, backend.ErrUnsupported)
	require.Empty(signers.All)

	signer, err := signers.Import("validator", "passphrase", &config.Signer{
		Kind:   file.Kind,
		Config: cfg,
	}, &backend.ImportSource{
		Kind: backend.ImportKindSeed,
		Data: base64.StdEncoding.EncodeToString(kmsTesting.RFC8032.Seed),
	})
	require.NoError(err)
	signer.Close()

	signer, err = signers.Load("validator", "passphrase")
	require.NoError(err)
	defer signer.Close()

	msg := []byte("vote:height=10,round=0")
	sig, err := signer.Sign(msg)
	require.NoError(err)
	require.True(kmsTesting.RFC8032.Identity.Verify(msg, sig))

	_, err = signers.Load("validator", "wrong")
	require.Error(err)
}

func TestSignersValidate(t *testing.T) {
	require := require.New(t)

	signers := config.Signers{
		Default: "missing",
	}
	require.Error(signers.Validate())

	signers = config.Signers{
		All: map[string]*config.Signer{
			"validator": {Kind: "unknown", PublicKey: kmsTesting.Alice.PublicKey.String()},
		},
	}
	require.Error(signers.Validate())

	signers.All["validator"].Kind = backendTest.Kind
	require.NoError(signers.Validate())

	signers.All["validator"].PublicKey = "AAAA"
	require.Error(signers.Validate())
}
