package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	require := require.New(t)

	type inner struct {
		Name  string                 `mapstructure:"name"`
		Extra map[string]interface{} `mapstructure:",remain"`
	}
	type outer struct {
		hidden   int
		Inner    inner             `mapstructure:"inner"`
		Pointer  *inner            `mapstructure:"pointer"`
		Optional string            `mapstructure:"optional,omitempty"`
		Items    map[string]*inner `mapstructure:"items"`
	}

	enc, err := encode(&outer{
		hidden: 42,
		Inner: inner{
			Name:  "a",
			Extra: map[string]interface{}{"dir": "/tmp"},
		},
		Items: map[string]*inner{
			"b": {Name: "b"},
		},
	})
	require.NoError(err)
	require.Equal(map[string]interface{}{
		"inner":   map[string]interface{}{"name": "a", "dir": "/tmp"},
		"pointer": nil,
		"items": map[string]interface{}{
			"b": map[string]interface{}{"name": "b"},
		},
	}, enc)

	_, err = encode(&outer{
		Inner: inner{
			Name:  "a",
			Extra: map[string]interface{}{"name": "conflict"},
		},
	})
	require.Error(err, "remain keys should not shadow regular fields")

	_, err = encode(map[int]string{1: "a"})
	require.Error(err)
}

func TestLogValidate(t *testing.T) {
	require := require.New(t)

	l := Default().Log
	require.NoError(l.Validate())

	for _, level := range []string{"debug", "info", "warn", "error"} {
		l.Level = level
		require.NoError(l.Validate(), level)
	}
	l.Format = "json"
	require.NoError(l.Validate())

	l.Level = "loud"
	require.Error(l.Validate())
	l.Level = "info"
	l.Format = "xml"
	require.Error(l.Validate())
}

func TestServerValidate(t *testing.T) {
	require := require.New(t)

	s := Default().Server
	require.NoError(s.Validate())

	s.Signer = "Validator"
	require.Error(s.Validate())
	s.Signer = "validator"
	require.NoError(s.Validate())

	s.TLSCert = "server.pem"
	require.Error(s.Validate())
	s.TLSKey = "server.key"
	require.NoError(s.Validate())
}

func TestConfigSaveLoad(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "oasis-kms.toml")

	v := viper.New()
	v.SetConfigFile(path)

	cfg := Default()
	cfg.viper = v
	cfg.Log.Level = "debug"
	cfg.Metrics.Address = "127.0.0.1:9101"
	require.NoError(cfg.Save())

	v2 := viper.New()
	v2.SetConfigFile(path)
	require.NoError(v2.ReadInConfig())

	var loaded Config
	require.NoError(loaded.Load(v2))
	require.Equal("debug", loaded.Log.Level)
	require.Equal("logfmt", loaded.Log.Format)
	require.Equal("127.0.0.1:9100", loaded.Server.Address)
	require.Equal("127.0.0.1:9101", loaded.Metrics.Address)
	require.Empty(loaded.Signers.All)

	cfg.Log.Level = "loud"
	require.Error(cfg.Save(), "invalid configuration should not be saved")
}

func TestResetDefaults(t *testing.T) {
	require := require.New(t)

	Global().Log.Level = "error"
	ResetDefaults()
	require.Equal("info", Global().Log.Level)
}
