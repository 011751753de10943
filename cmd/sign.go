package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/oasisprotocol/oasis-kms/cmd/common"
	"github.com/oasisprotocol/oasis-kms/config"
	"github.com/oasisprotocol/oasis-kms/crypto/signature"
	"github.com/oasisprotocol/oasis-kms/crypto/signature/ed25519"
)

var (
	messageIsHex bool

	signCmd = &cobra.Command{
		Use:   "sign <message>",
		Short: "Sign a message with the selected signer",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Global()
			message, err := parseMessage(args[0])
			cobra.CheckErr(err)

			name := common.GetSignerSelection(cfg, "")
			signer := common.LoadSigner(cfg, name)
			defer signer.Close()

			sig, err := signer.Sign(message)
			cobra.CheckErr(err)

			fmt.Fprintln(cmd.OutOrStdout(), sig)
		},
	}

	verifyCmd = &cobra.Command{
		Use:   "verify <public-key> <message> <signature>",
		Short: "Verify a consensus signature",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			var pk ed25519.PublicKey
			err := pk.UnmarshalText([]byte(args[0]))
			cobra.CheckErr(err)

			message, err := parseMessage(args[1])
			cobra.CheckErr(err)

			var sig ed25519.Signature
			err = sig.UnmarshalText([]byte(args[2]))
			cobra.CheckErr(err)

			if !signature.NewConsensusIdentity(pk).Verify(message, sig) {
				cobra.CheckErr(fmt.Errorf("signature verification failed"))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signature is valid.")
		},
	}
)

func parseMessage(raw string) ([]byte, error) {
	if !messageIsHex {
		return []byte(raw), nil
	}
	message, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed hex message: %w", err)
	}
	return message, nil
}

func init() {
	messageFlags := flag.NewFlagSet("", flag.ContinueOnError)
	messageFlags.BoolVar(&messageIsHex, "hex", false, "treat the message as hex-encoded bytes")

	signCmd.Flags().AddFlagSet(messageFlags)
	signCmd.Flags().AddFlagSet(common.SelectorFlags)
	signCmd.Flags().AddFlagSet(common.PassphraseFlags)

	verifyCmd.Flags().AddFlagSet(messageFlags)
}
