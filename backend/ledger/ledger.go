// Package ledger implements the signing backend for consensus keys held by a Ledger device.
package ledger

import (
	"fmt"
	"sync"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-core/go/common/logging"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

const (
	// Kind is the signer kind for the ledger-backed signers.
	Kind = "ledger"

	cfgNumber = "ledger.number"
)

var (
	logger = logging.GetLogger("kms/backend/ledger")

	// connect is the device connector, replaced in tests.
	connect = connectToDevice
)

type signerConfig struct {
	Number uint32 `mapstructure:"number,omitempty"`
}

var _ signature.Backend = (*ledgerBackend)(nil)

type ledgerBackend struct {
	path []uint32
	pk   ed25519.PublicKey
	dev  *ledgerDevice

	resetOnce sync.Once
}

func newBackend(dev *ledgerDevice, cfg *signerConfig) (*ledgerBackend, error) {
	version, err := dev.GetVersion()
	if err != nil {
		return nil, err
	}
	logger.Debug("connected to device",
		"app_version", version.String(),
	)

	path := getConsensusPath(cfg.Number)
	pk, err := dev.GetPublicKeyEd25519(path, false)
	if err != nil {
		return nil, err
	}

	return &ledgerBackend{
		path: path,
		pk:   pk,
		dev:  dev,
	}, nil
}

func (b *ledgerBackend) Public() ed25519.PublicKey {
	return b.pk
}

func (b *ledgerBackend) Sign(message []byte) (ed25519.Signature, error) {
	rawSig, err := b.dev.SignEd25519(b.path, message)
	if err != nil {
		return ed25519.Signature{}, err
	}

	sig, err := ed25519.NewSignatureFromBytes(rawSig)
	if err != nil {
		return ed25519.Signature{}, fmt.Errorf("ledger: device returned malformed signature: %w", err)
	}
	if !b.pk.Verify(message, sig) {
		return ed25519.Signature{}, fmt.Errorf("ledger: device returned invalid signature")
	}
	return sig, nil
}

func (b *ledgerBackend) String() string {
	return fmt.Sprintf("[ledger backend: %s]", b.pk)
}

func (b *ledgerBackend) Reset() {
	b.resetOnce.Do(func() {
		_ = b.dev.Close()
	})
}

type ledgerSignerFactory struct {
	flags *flag.FlagSet
}

func (sf *ledgerSignerFactory) Kind() string {
	return Kind
}

func (sf *ledgerSignerFactory) PrettyKind(rawCfg map[string]interface{}) string {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return Kind
	}
	return fmt.Sprintf("%s (consensus:%d)", Kind, cfg.Number)
}

func (sf *ledgerSignerFactory) Provider() signature.Provider {
	return signature.ProviderLedger
}

func (sf *ledgerSignerFactory) Flags() *flag.FlagSet {
	return sf.flags
}

func (sf *ledgerSignerFactory) GetConfigFromFlags() (map[string]interface{}, error) {
	cfg := make(map[string]interface{})
	cfg["number"], _ = sf.flags.GetUint32(cfgNumber)
	return cfg, nil
}

func (sf *ledgerSignerFactory) GetConfigFromSurvey(kind *backend.ImportKind) (map[string]interface{}, error) {
	return nil, fmt.Errorf("%w: ledger keys cannot be imported", backend.ErrUnsupported)
}

func (sf *ledgerSignerFactory) DataPrompt(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Prompt {
	return nil
}

func (sf *ledgerSignerFactory) DataValidator(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Validator {
	return nil
}

func (sf *ledgerSignerFactory) RequiresPassphrase() bool {
	return false
}

func (sf *ledgerSignerFactory) SupportedImportKinds() []backend.ImportKind {
	return []backend.ImportKind{}
}

func (sf *ledgerSignerFactory) unmarshalConfig(raw map[string]interface{}) (*signerConfig, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing configuration")
	}

	var cfg signerConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (sf *ledgerSignerFactory) load(rawCfg map[string]interface{}) (*signature.Signer, error) {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return nil, err
	}

	dev, err := connect()
	if err != nil {
		return nil, err
	}

	b, err := newBackend(dev, cfg)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	signer, err := signature.NewVerified(signature.ProviderLedger, b.Public(), b)
	if err != nil {
		b.Reset()
		return nil, err
	}
	return signer, nil
}

func (sf *ledgerSignerFactory) Create(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return sf.load(rawCfg)
}

func (sf *ledgerSignerFactory) Load(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return sf.load(rawCfg)
}

func (sf *ledgerSignerFactory) Remove(name string, rawCfg map[string]interface{}) error {
	return nil
}

func (sf *ledgerSignerFactory) Rename(old, new string, rawCfg map[string]interface{}) error {
	return nil
}

func (sf *ledgerSignerFactory) Import(name string, passphrase string, rawCfg map[string]interface{}, src *backend.ImportSource) (*signature.Signer, error) {
	return nil, fmt.Errorf("%w: ledger keys cannot be imported", backend.ErrUnsupported)
}

func init() {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.Uint32(cfgNumber, 0, "Consensus key number on the device")

	backend.Register(&ledgerSignerFactory{
		flags: flags,
	})
}
