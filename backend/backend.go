// Package backend contains the registry of signing backend factories.
package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AlecAivazis/survey/v2"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-kms/crypto/signature"
)

// ErrUnsupported is the error returned when a backend kind does not support an operation.
var ErrUnsupported = errors.New("backend: operation not supported")

var registeredFactories sync.Map

// Factory is a factory that supports signing backends of a specific kind.
type Factory interface {
	// Kind returns the kind of backends this factory will produce.
	Kind() string

	// PrettyKind returns human-friendly kind of backends this factory will produce.
	PrettyKind(cfg map[string]interface{}) string

	// Provider returns the signing provider of the backends produced by this factory.
	Provider() signature.Provider

	// Flags returns the CLI flags that can be used for configuring this backend factory.
	Flags() *flag.FlagSet

	// GetConfigFromFlags generates backend configuration from flags.
	GetConfigFromFlags() (map[string]interface{}, error)

	// GetConfigFromSurvey generates backend configuration from survey answers.
	GetConfigFromSurvey(kind *ImportKind) (map[string]interface{}, error)

	// DataPrompt returns a survey prompt for entering data when importing a key.
	DataPrompt(kind ImportKind, cfg map[string]interface{}) survey.Prompt

	// DataValidator returns a survey data input validator used when importing a key.
	DataValidator(kind ImportKind, cfg map[string]interface{}) survey.Validator

	// RequiresPassphrase returns true if the backend requires a passphrase.
	RequiresPassphrase() bool

	// SupportedImportKinds returns the import kinds supported by this backend.
	SupportedImportKinds() []ImportKind

	// Create sets up a new signer of this kind. Backends that hold keys outside of the
	// process (devices, remote services) bind to the existing key, others refuse with
	// ErrUnsupported.
	Create(name string, passphrase string, cfg map[string]interface{}) (*signature.Signer, error)

	// Load loads an existing signer.
	Load(name string, passphrase string, cfg map[string]interface{}) (*signature.Signer, error)

	// Remove removes an existing signer.
	Remove(name string, cfg map[string]interface{}) error

	// Rename renames an existing signer.
	Rename(old, new string, cfg map[string]interface{}) error

	// Import creates a new signer from imported key material.
	Import(name string, passphrase string, cfg map[string]interface{}, src *ImportSource) (*signature.Signer, error)
}

// ImportKind is a key import kind.
type ImportKind string

// Supported import kinds.
const (
	ImportKindSeed       ImportKind = "seed"
	ImportKindPrivateKey ImportKind = "private key"
)

// UnmarshalText decodes a text marshalled import kind.
func (k *ImportKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case string(ImportKindSeed):
		*k = ImportKindSeed
	case string(ImportKindPrivateKey):
		*k = ImportKindPrivateKey
	default:
		return fmt.Errorf("unknown import kind: %s", string(text))
	}
	return nil
}

// ImportSource is a source of imported key material.
type ImportSource struct {
	Kind ImportKind
	Data string
}

// Register registers a new backend factory.
func Register(bf Factory) {
	if _, loaded := registeredFactories.LoadOrStore(bf.Kind(), bf); loaded {
		panic(fmt.Sprintf("backend: kind '%s' is already registered", bf.Kind()))
	}
}

// Load loads a previously registered backend factory.
func Load(kind string) (Factory, error) {
	bf, loaded := registeredFactories.Load(kind)
	if !loaded {
		return nil, fmt.Errorf("backend: kind '%s' not available", kind)
	}
	return bf.(Factory), nil
}

// AvailableKinds returns all of the available backend factories, ordered by kind.
func AvailableKinds() []Factory {
	var kinds []Factory
	registeredFactories.Range(func(key, value interface{}) bool {
		kinds = append(kinds, value.(Factory))
		return true
	})
	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].Kind() < kinds[j].Kind()
	})
	return kinds
}

// ImportKinds returns all of the available key import kinds.
func ImportKinds() []string {
	return []string{
		string(ImportKindSeed),
		string(ImportKindPrivateKey),
	}
}
