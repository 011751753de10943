// Package test implements the signer kind over the well-known test keys.
//
// Test signers must never be used to sign for a live network.
package test

import (
	"fmt"
	"sort"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/testing"
)

const (
	// Kind is the signer kind for the test signers.
	Kind = "test"

	cfgKey = "test.key"
)

type signerConfig struct {
	Key string `mapstructure:"key"`
}

// KeyNames returns the names of all available test keys.
func KeyNames() []string {
	names := make([]string, 0, len(testing.TestKeys))
	for name := range testing.TestKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type testSignerFactory struct {
	flags *flag.FlagSet
}

func (sf *testSignerFactory) Kind() string {
	return Kind
}

func (sf *testSignerFactory) PrettyKind(rawCfg map[string]interface{}) string {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return Kind
	}
	return fmt.Sprintf("%s (%s)", Kind, cfg.Key)
}

func (sf *testSignerFactory) Provider() signature.Provider {
	return signature.ProviderSoftwareEd25519
}

func (sf *testSignerFactory) Flags() *flag.FlagSet {
	return sf.flags
}

func (sf *testSignerFactory) GetConfigFromFlags() (map[string]interface{}, error) {
	cfg := make(map[string]interface{})
	cfg["key"], _ = sf.flags.GetString(cfgKey)
	return cfg, nil
}

func (sf *testSignerFactory) GetConfigFromSurvey(kind *backend.ImportKind) (map[string]interface{}, error) {
	var key string
	err := survey.AskOne(&survey.Select{
		Message: "Test key:",
		Options: KeyNames(),
	}, &key)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"key": key}, nil
}

func (sf *testSignerFactory) DataPrompt(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Prompt {
	return nil
}

func (sf *testSignerFactory) DataValidator(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Validator {
	return nil
}

func (sf *testSignerFactory) RequiresPassphrase() bool {
	return false
}

func (sf *testSignerFactory) SupportedImportKinds() []backend.ImportKind {
	return []backend.ImportKind{}
}

func (sf *testSignerFactory) unmarshalConfig(raw map[string]interface{}) (*signerConfig, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing configuration")
	}

	var cfg signerConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (sf *testSignerFactory) load(rawCfg map[string]interface{}) (*signature.Signer, error) {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return nil, err
	}

	key, ok := testing.TestKeys[cfg.Key]
	if !ok {
		return nil, fmt.Errorf("test key '%s' does not exist", cfg.Key)
	}
	return key.NewSigner(), nil
}

func (sf *testSignerFactory) Create(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return sf.load(rawCfg)
}

func (sf *testSignerFactory) Load(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return sf.load(rawCfg)
}

func (sf *testSignerFactory) Remove(name string, rawCfg map[string]interface{}) error {
	return nil
}

func (sf *testSignerFactory) Rename(old, new string, rawCfg map[string]interface{}) error {
	return nil
}

func (sf *testSignerFactory) Import(name string, passphrase string, rawCfg map[string]interface{}, src *backend.ImportSource) (*signature.Signer, error) {
	return nil, fmt.Errorf("%w: test signers cannot be imported", backend.ErrUnsupported)
}

func init() {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.String(cfgKey, "alice", fmt.Sprintf("Test key to use %v", KeyNames()))

	backend.Register(&testSignerFactory{
		flags: flags,
	})
}
