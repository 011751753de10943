package cmd

import (
	"fmt"
	"sort"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-kms/backend"
	backendFile "github.com/oasisprotocol/oasis-kms/backend/file"
	"github.com/oasisprotocol/oasis-kms/backend/ledger"
	"github.com/oasisprotocol/oasis-kms/cmd/common"
	"github.com/oasisprotocol/oasis-kms/config"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/table"
)

var (
	signerKind        string
	signerImportKind  string
	signerDescription string

	signerCmd = &cobra.Command{
		Use:   "signer",
		Short: "Manage signers",
	}

	signerListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configured signers",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			table := table.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Kind", "Provider", "Public Key"})

			var output [][]string
			for name, sc := range cfg.Signers.All {
				if cfg.Signers.Default == name {
					name += defaultMarker
				}

				kind := sc.Kind
				provider := "-"
				if bf, err := sc.LoadFactory(); err == nil {
					kind = bf.PrettyKind(sc.Config)
					provider = bf.Provider().String()
				}

				output = append(output, []string{
					name,
					kind,
					provider,
					sc.PublicKey,
				})
			}

			// Sort output by name.
			sort.Slice(output, func(i, j int) bool {
				return output[i][0] < output[j][0]
			})

			table.AppendBulk(output)
			table.Render()
		},
	}

	signerAddCmd = &cobra.Command{
		Use:   "add <name>",
		Short: "Add a signer bound to an existing device or remote key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			name := args[0]

			bf, err := backend.Load(signerKind)
			cobra.CheckErr(err)

			var passphrase string
			if bf.RequiresPassphrase() {
				passphrase = common.AskNewPassphrase()
			}

			sc := &config.Signer{
				Description: signerDescription,
				Kind:        signerKind,
			}
			err = sc.SetConfigFromFlags()
			cobra.CheckErr(err)

			signer, err := cfg.Signers.Create(name, passphrase, sc)
			cobra.CheckErr(err)
			defer signer.Close()

			err = cfg.Save()
			cobra.CheckErr(err)

			showPublicSignerInfo(cmd, signer)
		},
	}

	signerImportCmd = &cobra.Command{
		Use:   "import <name>",
		Short: "Import an existing consensus key",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			name := args[0]

			if _, exists := cfg.Signers.All[name]; exists {
				cobra.CheckErr(fmt.Errorf("signer '%s' already exists", name))
			}

			bf, err := backend.Load(signerImportKind)
			cobra.CheckErr(err)

			// Ask for import kind.
			var supportedKinds []string
			for _, kind := range bf.SupportedImportKinds() {
				supportedKinds = append(supportedKinds, string(kind))
			}
			if len(supportedKinds) == 0 {
				cobra.CheckErr(fmt.Errorf("%w: signer kind '%s' does not support importing keys", backend.ErrUnsupported, bf.Kind()))
			}

			var kindRaw string
			err = survey.AskOne(&survey.Select{
				Message: "Import kind:",
				Options: supportedKinds,
			}, &kindRaw)
			cobra.CheckErr(err)

			var kind backend.ImportKind
			err = kind.UnmarshalText([]byte(kindRaw))
			cobra.CheckErr(err)

			// Ask for signer configuration, on top of what was given by flags.
			bfCfg, err := bf.GetConfigFromFlags()
			cobra.CheckErr(err)
			surveyCfg, err := bf.GetConfigFromSurvey(&kind)
			cobra.CheckErr(err)
			for k, v := range surveyCfg {
				bfCfg[k] = v
			}

			// Ask for import data.
			var answers struct {
				Data string
			}
			questions := []*survey.Question{
				{
					Name:     "data",
					Prompt:   bf.DataPrompt(kind, bfCfg),
					Validate: bf.DataValidator(kind, bfCfg),
				},
			}
			err = survey.Ask(questions, &answers)
			cobra.CheckErr(err)

			var passphrase string
			if bf.RequiresPassphrase() {
				passphrase = common.AskNewPassphrase()
			}

			sc := &config.Signer{
				Description: signerDescription,
				Kind:        bf.Kind(),
				Config:      bfCfg,
			}
			src := &backend.ImportSource{
				Kind: kind,
				Data: answers.Data,
			}

			signer, err := cfg.Signers.Import(name, passphrase, sc, src)
			cobra.CheckErr(err)
			defer signer.Close()

			err = cfg.Save()
			cobra.CheckErr(err)

			showPublicSignerInfo(cmd, signer)
		},
	}

	signerShowCmd = &cobra.Command{
		Use:   "show <name>",
		Short: "Show public signer information",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := args[0]

			signer := common.LoadSigner(config.Global(), name)
			defer signer.Close()

			if desc := config.Global().Signers.All[name].Description; desc != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Description: %s\n", desc)
			}
			showPublicSignerInfo(cmd, signer)
		},
	}

	signerRmCmd = &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Remove an existing signer",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			name := args[0]

			// Early check for whether the signer exists so that we don't ask for confirmation first.
			sc, exists := cfg.Signers.All[name]
			if !exists {
				cobra.CheckErr(fmt.Errorf("signer '%s' does not exist", name))
			}

			if sc.Kind == backendFile.Kind {
				fmt.Printf("WARNING: Removing the signer will ERASE secret key material!\n")
				fmt.Printf("WARNING: THIS ACTION IS IRREVERSIBLE!\n")
			}
			common.ConfirmText(fmt.Sprintf("I really want to remove signer %s", name))

			err := cfg.Signers.Remove(name)
			cobra.CheckErr(err)

			err = cfg.Save()
			cobra.CheckErr(err)
		},
	}

	signerRenameCmd = &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename an existing signer",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			oldName, newName := args[0], args[1]

			err := cfg.Signers.Rename(oldName, newName)
			cobra.CheckErr(err)

			err = cfg.Save()
			cobra.CheckErr(err)
		},
	}

	signerSetDefaultCmd = &cobra.Command{
		Use:   "set-default <name>",
		Short: "Sets the given signer as the default signer",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			name := args[0]

			err := cfg.Signers.SetDefault(name)
			cobra.CheckErr(err)

			err = cfg.Save()
			cobra.CheckErr(err)
		},
	}
)

func showPublicSignerInfo(cmd *cobra.Command, signer *signature.Signer) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider:   %s\n", signer.Provider())
	fmt.Fprintf(out, "Identity:   %s\n", signer.Identity())
	fmt.Fprintf(out, "Public Key: %s\n", signer.PublicKey())
}

func init() {
	signerCmd.AddCommand(signerListCmd)

	kindFlags := flag.NewFlagSet("", flag.ContinueOnError)
	for _, bf := range backend.AvailableKinds() {
		kindFlags.AddFlagSet(bf.Flags())
	}

	signerAddCmd.Flags().StringVar(&signerKind, "kind", ledger.Kind, "signer kind")
	signerAddCmd.Flags().StringVar(&signerDescription, "description", "", "signer description")
	signerAddCmd.Flags().AddFlagSet(kindFlags)

	signerImportCmd.Flags().StringVar(&signerImportKind, "kind", backendFile.Kind, "signer kind")
	signerImportCmd.Flags().StringVar(&signerDescription, "description", "", "signer description")
	signerImportCmd.Flags().AddFlagSet(kindFlags)

	signerShowCmd.Flags().AddFlagSet(common.PassphraseFlags)

	signerCmd.AddCommand(signerAddCmd)
	signerCmd.AddCommand(signerImportCmd)
	signerCmd.AddCommand(signerShowCmd)
	signerCmd.AddCommand(signerRmCmd)
	signerCmd.AddCommand(signerRenameCmd)
	signerCmd.AddCommand(signerSetDefaultCmd)
}
