package common

import (
	"fmt"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-kms/config"
)

var selectedSigner string

// SelectorFlags contains the common signer selector flags.
var SelectorFlags *flag.FlagSet

// GetSignerSelection returns the name of the user-selected signer, falling back to the given
// preferred name and then to the default signer.
func GetSignerSelection(cfg *config.Config, preferred string) string {
	name := cfg.Signers.Default
	if preferred != "" {
		name = preferred
	}
	if selectedSigner != "" {
		name = selectedSigner
	}
	if name == "" {
		cobra.CheckErr(fmt.Errorf("no signers configured"))
	}
	if _, exists := cfg.Signers.All[name]; !exists {
		cobra.CheckErr(fmt.Errorf("signer '%s' does not exist", name))
	}
	return name
}

func init() {
	SelectorFlags = flag.NewFlagSet("", flag.ContinueOnError)
	SelectorFlags.StringVar(&selectedSigner, "signer", "", "explicitly set signer to use")
}
