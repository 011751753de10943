package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-kms/config"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
)

var passphraseFile string

// PassphraseFlags contains the flags for non-interactive unlocking of signers.
var PassphraseFlags *flag.FlagSet

// LoadSigner loads the given named signer. The returned signer is owned by the caller.
func LoadSigner(cfg *config.Config, name string) *signature.Signer {
	// Early check for whether the signer exists so that we don't ask for passphrase first.
	var (
		sc     *config.Signer
		exists bool
	)
	if sc, exists = cfg.Signers.All[name]; !exists {
		cobra.CheckErr(fmt.Errorf("signer '%s' does not exist", name))
	}

	bf, err := sc.LoadFactory()
	cobra.CheckErr(err)

	var passphrase string
	if bf.RequiresPassphrase() {
		passphrase = getPassphrase(name)
	}

	signer, err := cfg.Signers.Load(name, passphrase)
	cobra.CheckErr(err)

	return signer
}

func getPassphrase(name string) string {
	if passphraseFile != "" {
		raw, err := os.ReadFile(passphraseFile)
		cobra.CheckErr(err)
		return strings.TrimRight(string(raw), "\r\n")
	}

	// Ask for passphrase to decrypt the signer.
	fmt.Printf("Unlock signer '%s'.\n", name)

	var passphrase string
	err := survey.AskOne(PromptPassphrase, &passphrase)
	cobra.CheckErr(err)

	return passphrase
}

func init() {
	PassphraseFlags = flag.NewFlagSet("", flag.ContinueOnError)
	PassphraseFlags.StringVar(&passphraseFile, "passphrase-file", "", "read the signer passphrase from the given file")
}
