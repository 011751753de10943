package signature

import "fmt"

// Provider identifies the kind of backend that produces signatures for a Signer.
type Provider uint8

// Supported signing providers.
const (
	// ProviderInvalid is the zero value and never identifies a usable backend.
	ProviderInvalid Provider = iota
	// ProviderSoftwareEd25519 is an Ed25519 key held in process memory.
	ProviderSoftwareEd25519
	// ProviderLedger is an Ed25519 key held by a Ledger hardware device.
	ProviderLedger
	// ProviderRemoteKMS is an Ed25519 key held by a remote key-management service.
	ProviderRemoteKMS
)

const (
	providerSoftwareEd25519 = "software-ed25519"
	providerLedger          = "ledger"
	providerRemoteKMS       = "remote-kms"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	switch p {
	case ProviderSoftwareEd25519:
		return providerSoftwareEd25519
	case ProviderLedger:
		return providerLedger
	case ProviderRemoteKMS:
		return providerRemoteKMS
	default:
		return fmt.Sprintf("[unknown provider: %d]", uint8(p))
	}
}

// IsValid returns true iff the provider is one of the supported providers.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderSoftwareEd25519, ProviderLedger, ProviderRemoteKMS:
		return true
	default:
		return false
	}
}

// MarshalText encodes a provider into text form.
func (p Provider) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProvider, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a text marshalled provider.
func (p *Provider) UnmarshalText(text []byte) error {
	switch string(text) {
	case providerSoftwareEd25519:
		*p = ProviderSoftwareEd25519
	case providerLedger:
		*p = ProviderLedger
	case providerRemoteKMS:
		*p = ProviderRemoteKMS
	default:
		return fmt.Errorf("%w: '%s'", ErrInvalidProvider, string(text))
	}
	return nil
}

// Providers returns all of the supported providers.
func Providers() []Provider {
	return []Provider{
		ProviderSoftwareEd25519,
		ProviderLedger,
		ProviderRemoteKMS,
	}
}
