package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

const (
	// Kind is the signer kind for the remote signers.
	Kind = "remote"

	cfgAddress = "remote.address"
	cfgTimeout = "remote.timeout"
	cfgCACert  = "remote.ca_cert"

	defaultTimeout = 5 * time.Second
)

var _ signature.Backend = (*Backend)(nil)

// Backend is a signing backend that forwards requests to a remote signer service.
//
// Requests are never retried, and each request is bounded by the configured timeout.
type Backend struct {
	conn    *grpc.ClientConn
	pk      ed25519.PublicKey
	timeout time.Duration

	closeOnce sync.Once
}

// NewBackend creates a new remote backend over the given connection, which it takes ownership
// of. The public key of the remote signer is fetched with the given context.
func NewBackend(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) (*Backend, error) {
	b := &Backend{
		conn:    conn,
		timeout: timeout,
	}

	var rsp PublicKeyResponse
	if err := conn.Invoke(ctx, methodPublicKey, &PublicKeyRequest{}, &rsp, grpc.ForceCodec(cborCodec{})); err != nil {
		return nil, fmt.Errorf("remote: failed to fetch public key: %w", err)
	}
	if err := b.pk.UnmarshalBinary(rsp.PublicKey); err != nil {
		return nil, fmt.Errorf("remote: service returned malformed public key: %w", err)
	}

	return b, nil
}

// Dial connects to the remote signer service at the given address.
func Dial(address string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithDisableRetry()}, opts...)
	return grpc.NewClient(address, opts...)
}

// Public implements signature.Backend.
func (b *Backend) Public() ed25519.PublicKey {
	return b.pk
}

// Sign implements signature.Backend.
func (b *Backend) Sign(message []byte) (ed25519.Signature, error) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	var rsp SignResponse
	if err := b.conn.Invoke(ctx, methodSign, &SignRequest{Message: message}, &rsp, grpc.ForceCodec(cborCodec{})); err != nil {
		return ed25519.Signature{}, fmt.Errorf("remote: %w", err)
	}

	sig, err := ed25519.NewSignatureFromBytes(rsp.Signature)
	if err != nil {
		return ed25519.Signature{}, fmt.Errorf("remote: service returned malformed signature: %w", err)
	}
	if !b.pk.Verify(message, sig) {
		return ed25519.Signature{}, fmt.Errorf("remote: service returned invalid signature")
	}
	return sig, nil
}

// String implements signature.Backend.
func (b *Backend) String() string {
	return fmt.Sprintf("[remote backend: %s]", b.pk)
}

// Reset implements signature.Backend.
func (b *Backend) Reset() {
	b.closeOnce.Do(func() {
		_ = b.conn.Close()
	})
}

type signerConfig struct {
	Address string `mapstructure:"address"`
	Timeout string `mapstructure:"timeout,omitempty"`
	CACert  string `mapstructure:"ca_cert,omitempty"`
}

func (cfg *signerConfig) getTimeout() (time.Duration, error) {
	if cfg.Timeout == "" {
		return defaultTimeout, nil
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return 0, fmt.Errorf("remote: malformed timeout '%s': %w", cfg.Timeout, err)
	}
	return timeout, nil
}

func (cfg *signerConfig) dialOptions() ([]grpc.DialOption, error) {
	if cfg.CACert == "" {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}

	creds, err := credentials.NewClientTLSFromFile(cfg.CACert, "")
	if err != nil {
		return nil, fmt.Errorf("remote: failed to load CA certificate: %w", err)
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
}

type remoteSignerFactory struct {
	flags *flag.FlagSet

	// dialOpts are additional dial options, used in tests.
	dialOpts []grpc.DialOption
}

func (sf *remoteSignerFactory) Kind() string {
	return Kind
}

func (sf *remoteSignerFactory) PrettyKind(rawCfg map[string]interface{}) string {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return Kind
	}
	return fmt.Sprintf("%s (%s)", Kind, cfg.Address)
}

func (sf *remoteSignerFactory) Provider() signature.Provider {
	return signature.ProviderRemoteKMS
}

func (sf *remoteSignerFactory) Flags() *flag.FlagSet {
	return sf.flags
}

func (sf *remoteSignerFactory) GetConfigFromFlags() (map[string]interface{}, error) {
	cfg := make(map[string]interface{})
	cfg["address"], _ = sf.flags.GetString(cfgAddress)
	if timeout, _ := sf.flags.GetDuration(cfgTimeout); timeout != defaultTimeout {
		cfg["timeout"] = timeout.String()
	}
	if caCert, _ := sf.flags.GetString(cfgCACert); caCert != "" {
		cfg["ca_cert"] = caCert
	}
	return cfg, nil
}

func (sf *remoteSignerFactory) GetConfigFromSurvey(kind *backend.ImportKind) (map[string]interface{}, error) {
	return nil, fmt.Errorf("%w: remote keys cannot be imported", backend.ErrUnsupported)
}

func (sf *remoteSignerFactory) DataPrompt(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Prompt {
	return nil
}

func (sf *remoteSignerFactory) DataValidator(kind backend.ImportKind, rawCfg map[string]interface{}) survey.Validator {
	return nil
}

func (sf *remoteSignerFactory) RequiresPassphrase() bool {
	return false
}

func (sf *remoteSignerFactory) SupportedImportKinds() []backend.ImportKind {
	return []backend.ImportKind{}
}

func (sf *remoteSignerFactory) unmarshalConfig(raw map[string]interface{}) (*signerConfig, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing configuration")
	}

	var cfg signerConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("remote: missing address")
	}
	return &cfg, nil
}

func (sf *remoteSignerFactory) load(rawCfg map[string]interface{}) (*signature.Signer, error) {
	cfg, err := sf.unmarshalConfig(rawCfg)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.getTimeout()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.dialOptions()
	if err != nil {
		return nil, err
	}

	conn, err := Dial(cfg.Address, append(opts, sf.dialOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("remote: failed to connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b, err := NewBackend(ctx, conn, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	signer, err := signature.NewVerified(signature.ProviderRemoteKMS, b.Public(), b)
	if err != nil {
		b.Reset()
		return nil, err
	}
	return signer, nil
}

func (sf *remoteSignerFactory) Create(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return sf.load(rawCfg)
}

func (sf *remoteSignerFactory) Load(name string, passphrase string, rawCfg map[string]interface{}) (*signature.Signer, error) {
	return sf.load(rawCfg)
}

func (sf *remoteSignerFactory) Remove(name string, rawCfg map[string]interface{}) error {
	return nil
}

func (sf *remoteSignerFactory) Rename(old, new string, rawCfg map[string]interface{}) error {
	return nil
}

func (sf *remoteSignerFactory) Import(name string, passphrase string, rawCfg map[string]interface{}, src *backend.ImportSource) (*signature.Signer, error) {
	return nil, fmt.Errorf("%w: remote keys cannot be imported", backend.ErrUnsupported)
}

func init() {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.String(cfgAddress, "", "Address of the remote signer service")
	flags.Duration(cfgTimeout, defaultTimeout, "Timeout of a single request to the remote signer service")
	flags.String(cfgCACert, "", "Path to the PEM-encoded CA certificate of the remote signer service (enables TLS)")

	backend.Register(&remoteSignerFactory{
		flags: flags,
	})
}
