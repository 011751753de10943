package config

import (
	"fmt"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

// Signers contains the configuration of signers.
type Signers struct {
	// Default is the name of the default signer.
	Default string `mapstructure:"default"`

	// All is a map of all configured signers.
	All map[string]*Signer `mapstructure:",remain"`
}

// Validate performs config validation.
func (s *Signers) Validate() error {
	// Make sure the default signer actually exists.
	if _, exists := s.All[s.Default]; s.Default != "" && !exists {
		return fmt.Errorf("default signer '%s' does not exist", s.Default)
	}

	for name, sc := range s.All {
		if err := ValidateIdentifier(name); err != nil {
			return fmt.Errorf("malformed signer name '%s': %w", name, err)
		}

		if err := sc.Validate(); err != nil {
			return fmt.Errorf("signer '%s': %w", name, err)
		}
	}

	return nil
}

func (s *Signers) add(name string, ns *Signer, signer *signature.Signer) error {
	pk, err := signer.PublicKey().MarshalText()
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	ns.PublicKey = string(pk)

	if s.All == nil {
		s.All = make(map[string]*Signer)
	}
	s.All[name] = ns

	if s.Default == "" {
		s.Default = name
	}

	return nil
}

func (s *Signers) checkNew(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return fmt.Errorf("malformed signer name '%s': %w", name, err)
	}
	if _, exists := s.All[name]; exists {
		return fmt.Errorf("signer '%s' already exists", name)
	}
	return nil
}

// Create creates a new signer. The returned signer is owned by the caller.
func (s *Signers) Create(name string, passphrase string, ns *Signer) (*signature.Signer, error) {
	if err := s.checkNew(name); err != nil {
		return nil, err
	}

	bf, err := backend.Load(ns.Kind)
	if err != nil {
		return nil, err
	}
	signer, err := bf.Create(name, passphrase, ns.Config)
	if err != nil {
		return nil, err
	}

	if err = s.add(name, ns, signer); err != nil {
		signer.Close()
		return nil, err
	}
	return signer, nil
}

// Import imports an existing key as a new signer. The returned signer is owned by the caller.
func (s *Signers) Import(name string, passphrase string, ns *Signer, src *backend.ImportSource) (*signature.Signer, error) {
	if err := s.checkNew(name); err != nil {
		return nil, err
	}

	bf, err := backend.Load(ns.Kind)
	if err != nil {
		return nil, err
	}
	signer, err := bf.Import(name, passphrase, ns.Config, src)
	if err != nil {
		return nil, err
	}

	if err = s.add(name, ns, signer); err != nil {
		signer.Close()
		return nil, err
	}
	return signer, nil
}

// Load loads the given signer.
//
// The public key of the loaded backend must match the configured one, otherwise
// signature.ErrKeyMismatch is returned.
func (s *Signers) Load(name string, passphrase string) (*signature.Signer, error) {
	sc, exists := s.All[name]
	if !exists {
		return nil, fmt.Errorf("signer '%s' does not exist", name)
	}

	bf, err := backend.Load(sc.Kind)
	if err != nil {
		return nil, err
	}

	signer, err := bf.Load(name, passphrase, sc.Config)
	if err != nil {
		return nil, err
	}

	// Make sure the public key matches what we have in the config.
	if expected, actual := sc.GetPublicKey(), signer.PublicKey(); !actual.Equal(expected) {
		signer.Close()
		return nil, fmt.Errorf("%w after loading signer '%s' (expected: %s got: %s)",
			signature.ErrKeyMismatch,
			name,
			expected,
			actual,
		)
	}

	return signer, nil
}

// Remove removes the given signer.
func (s *Signers) Remove(name string) error {
	sc, exists := s.All[name]
	if !exists {
		return fmt.Errorf("signer '%s' does not exist", name)
	}

	bf, err := backend.Load(sc.Kind)
	if err != nil {
		return err
	}

	if err := bf.Remove(name, sc.Config); err != nil {
		return err
	}

	delete(s.All, name)

	// Clear default if set to this signer.
	if s.Default == name {
		s.Default = ""
	}

	return nil
}

// Rename renames the given signer.
func (s *Signers) Rename(old, new string) error {
	sc, exists := s.All[old]
	if !exists {
		return fmt.Errorf("signer '%s' does not exist", old)
	}
	if err := s.checkNew(new); err != nil {
		return err
	}

	bf, err := backend.Load(sc.Kind)
	if err != nil {
		return err
	}
	if err := bf.Rename(old, new, sc.Config); err != nil {
		return err
	}

	delete(s.All, old)
	s.All[new] = sc

	if s.Default == old {
		s.Default = new
	}

	return nil
}

// SetDefault sets the given signer as the default signer.
func (s *Signers) SetDefault(name string) error {
	if _, exists := s.All[name]; !exists {
		return fmt.Errorf("signer '%s' does not exist", name)
	}

	s.Default = name

	return nil
}

// Signer is a signer configuration object.
type Signer struct {
	Description string `mapstructure:"description"`
	Kind        string `mapstructure:"kind"`
	PublicKey   string `mapstructure:"public_key"`

	// Config contains kind-specific configuration for this signer.
	Config map[string]interface{} `mapstructure:",remain"`
}

// Validate performs config validation.
func (s *Signer) Validate() error {
	if _, err := backend.Load(s.Kind); err != nil {
		return fmt.Errorf("kind '%s' is not supported", s.Kind)
	}

	var pk ed25519.PublicKey
	if err := pk.UnmarshalText([]byte(s.PublicKey)); err != nil {
		return fmt.Errorf("malformed public key '%s': %w", s.PublicKey, err)
	}

	return nil
}

// GetPublicKey returns the parsed signer public key.
func (s *Signer) GetPublicKey() ed25519.PublicKey {
	var pk ed25519.PublicKey
	if err := pk.UnmarshalText([]byte(s.PublicKey)); err != nil {
		panic(err)
	}
	return pk
}

// GetProvider returns the signing provider of this signer's kind.
func (s *Signer) GetProvider() (signature.Provider, error) {
	bf, err := backend.Load(s.Kind)
	if err != nil {
		return signature.ProviderInvalid, err
	}
	return bf.Provider(), nil
}

// SetConfigFromFlags populates the kind-specific configuration from CLI flags.
func (s *Signer) SetConfigFromFlags() error {
	bf, err := backend.Load(s.Kind)
	if err != nil {
		return fmt.Errorf("kind '%s' is not supported", s.Kind)
	}

	cfg, err := bf.GetConfigFromFlags()
	if err != nil {
		return err
	}

	s.Config = cfg
	return nil
}

// LoadFactory loads the backend factory corresponding to this signer's kind.
func (s *Signer) LoadFactory() (backend.Factory, error) {
	return backend.Load(s.Kind)
}
