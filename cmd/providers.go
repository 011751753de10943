package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/oasisprotocol/oasis-kms/backend"
	"github.com/oasisprotocol/oasis-kms/table"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List available signer kinds and their signing providers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		table := table.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Kind", "Provider", "Passphrase", "Import"})

		var output [][]string
		for _, bf := range backend.AvailableKinds() {
			var importKinds []string
			for _, kind := range bf.SupportedImportKinds() {
				importKinds = append(importKinds, string(kind))
			}
			imports := "-"
			if len(importKinds) > 0 {
				imports = strings.Join(importKinds, ", ")
			}

			passphrase := "no"
			if bf.RequiresPassphrase() {
				passphrase = "yes"
			}

			output = append(output, []string{
				bf.Kind(),
				bf.Provider().String(),
				passphrase,
				imports,
			})
		}

		table.AppendBulk(output)
		table.Render()
	},
}
