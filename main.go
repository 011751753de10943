package main

import (
	"os"

	"github.com/oasisprotocol/oasis-kms/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
