// Package file implements the file-backed signer kind: a key sealed with a passphrase on disk
// that is loaded into an in-memory backend.
package file

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-core/go/common/cbor"
	"github.com/oasisprotocol/oasis-core/go/common/logging"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/backend/memory"
	"github.com/oasisprotocol/oasis-kms/config"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

const (
	// Kind is the signer kind for the file-backed signers.
	Kind = "file"

	cfgDir = "file.dir"

	keyFileExtension = ".key"
)

var logger = logging.GetLogger("kms/backend/file")

type signerConfig struct {
	// Dir overrides the directory holding the sealed key files.
	Dir string `mapstructure:"dir,omitempty"`
}

func (cfg *signerConfig) keyFilename(name string) string {
	dir := cfg.Dir
	if dir == "" {
		dir = config.Directory()
	}
	return filepath.Join(dir, name+keyFileExtension)
}

func decodeKeyData(kind backend.ImportKind, data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: key material must be base64-encoded", ed25519.ErrMalformedKey)
	}

	var size int
	switch kind {
	case backend.ImportKindSeed:
		size = ed25519.SeedSize
	case backend.ImportKindPrivateKey:
		size = ed25519.PrivateKeySize
	default:
		return nil, fmt.Errorf("unsupported import kind: %s", kind)
	}
	if len(raw) != size {
		zero(raw)
		return nil, fmt.Errorf("%w: %s must be %d bytes", ed25519.ErrMalformedKey, kind, size)
	}
	return raw, nil
}

func newSigner(state *keyState) (*signature.Signer, error) {
	raw, err := decodeKeyData(state.Kind, state.Data)
	if err != nil {
		return nil, err
	}
	defer zero(raw)

	var b *memory.Backend
	switch state.Kind {
	case backend.ImportKindSeed:
		b, err = memory.NewFromSeed(raw)
	case backend.ImportKindPrivateKey:
		b, err = memory.NewFromPrivateKey(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signer: %w", err)
	}

	signer, err := signature.NewVerified(signature.ProviderSoftwareEd25519, b.Public(), b)
	if err != nil {
		b.Reset()
		return nil, err
	}
	return signer, nil
}

type fileSignerFactory struct {
	flags *flag.FlagSet
}

func (sf *fileSignerFactory) Kind() string {
	return Kind
}

func (sf *fileSignerFactory) PrettyKind(rawCfg map[string]interface{}) string {
	return fmt.Sprintf("%s (%s)", Kind, signature.ProviderSoftwareEd25519)
}

func (sf *fileSignerFactory) Provider() signature.Provider {
	return signature.ProviderSoftwareEd25519
}

func (sf *fileSignerFactory) Flags() *flag.FlagSet {
	return sf.flags
}

func (sf *fileSignerFactory) GetConfigFromFlags() (map[string]interface{}, error) {
	cfg := make(map[string]interface{})
	if dir, _ := sf.flags.GetString(cfgDir); dir != "" {
		cfg["dir"] = dir
	}
	return cfg, nil
}

func (sf *fileSignerFactory) GetConfigFromSurvey(kind *backend.ImportKind) (map[string]interface{}, error) {
	return make(map[string]interface{}), nil
}

func (sf *fileSignerFactory) DataPrompt(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Prompt {
	switch kind {
	case backend.ImportKindSeed:
		return &survey.Password{Message: "Seed (base64-encoded):"}
	case backend.ImportKindPrivateKey:
		return &survey.Password{Message: "Private key (base64-encoded):"}
	default:
		return nil
	}
}

func (sf *fileSignerFactory) DataValidator(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Validator {
	return func(ans interface{}) error {
		raw, err := decodeKeyData(kind, ans.(string))
		if err != nil {
			return err
		}
		zero(raw)
		return nil
	}
}

func (sf *fileSignerFactory) RequiresPassphrase() bool {
	// A file-backed key always requires a passphrase.
	return true
}

func (sf *fileSignerFactory) SupportedImportKinds() []backend.ImportKind {
	return []backend.ImportKind{
		backend.ImportKindSeed,
		backend.ImportKindPrivateKey,
	}
}

func (sf *fileSignerFactory) unmarshalConfig(raw map[string]interface{}) (*signerConfig, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing configuration")
	}

	var cfg signerConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (sf *fileSignerFactory) Create(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return nil, fmt.Errorf("%w: file signers can only be imported", backend.ErrUnsupported)
}

func (sf *fileSignerFactory) Load(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(cfg.keyFilename(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load key state: %w", err)
	}

	var sk sealedKey
	if err = cbor.Unmarshal(raw, &sk); err != nil {
		return nil, fmt.Errorf("failed to load key state: %w", err)
	}

	state, err := sk.open(passphrase)
	if err != nil {
		logger.Error("failed to open key file",
			"name", name,
			"err", err,
		)
		return nil, err
	}

	return newSigner(state)
}

func (sf *fileSignerFactory) Remove(name string, rawCfg map[string]interface{}) error {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return err
	}
	return os.Remove(cfg.keyFilename(name))
}

func (sf *fileSignerFactory) Rename(old, new string, rawCfg map[string]interface{}) error {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return err
	}
	return renameKeyFile(cfg.keyFilename(old), cfg.keyFilename(new))
}

// renameKeyFile moves a key file, refusing to overwrite an existing one.
func renameKeyFile(oldFilename, newFilename string) error {
	if err := os.Link(oldFilename, newFilename); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("key file '%s' already exists", newFilename)
		}
		return err
	}
	return os.Remove(oldFilename)
}

func (sf *fileSignerFactory) Import(name string, passphrase string, rawCfg map[string]interface{}, src *backend.ImportSource) (*signature.Signer, error) {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return nil, err
	}

	switch src.Kind {
	case backend.ImportKindSeed, backend.ImportKindPrivateKey:
	default:
		return nil, fmt.Errorf("unsupported import kind: %s", src.Kind)
	}

	state := keyState{
		Kind: src.Kind,
		Data: src.Data,
	}

	// Make sure the key material is usable before persisting it.
	signer, err := newSigner(&state)
	if err != nil {
		return nil, err
	}

	sk, err := seal(&state, passphrase)
	if err != nil {
		signer.Close()
		return nil, fmt.Errorf("failed to seal state: %w", err)
	}
	if err = writeKeyFile(cfg.keyFilename(name), cbor.Marshal(sk)); err != nil {
		signer.Close()
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	logger.Info("imported key",
		"name", name,
		"public_key", signer.PublicKey().String(),
	)

	return signer, nil
}

// writeKeyFile writes a new key file, refusing to overwrite an existing one.
func writeKeyFile(filename string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("key file '%s' already exists", filename)
		}
		return err
	}
	if _, err = f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func init() {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.String(cfgDir, "", "Directory holding the sealed key file (defaults to the configuration directory)")

	backend.Register(&fileSignerFactory{
		flags: flags,
	})
}
