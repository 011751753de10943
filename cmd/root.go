// Package cmd implements the oasis-kms command line interface.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oasisprotocol/oasis-core/go/common/logging"

	_ "github.com/oasisprotocol/oasis-kms/backend/file"   // Register file signer backend.
	_ "github.com/oasisprotocol/oasis-kms/backend/ledger" // Register ledger signer backend.
	_ "github.com/oasisprotocol/oasis-kms/backend/remote" // Register remote signer backend.
	_ "github.com/oasisprotocol/oasis-kms/backend/test"   // Register test signer backend.
	"github.com/oasisprotocol/oasis-kms/config"
)

const (
	defaultMarker = " (*)"

	configFilename = "oasis-kms.toml"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:     "oasis-kms",
		Short:   "Validator consensus key management",
		Version: "0.1.0",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	v := viper.New()

	if cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(cfgFile)
	} else {
		configDir := config.Directory()
		configPath := filepath.Join(configDir, configFilename)

		v.AddConfigPath(configDir)
		v.SetConfigType("toml")
		v.SetConfigName(configFilename)

		// Ensure the configuration file exists.
		_ = os.MkdirAll(configDir, 0o700)
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			if _, err := os.Create(configPath); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to create configuration file: %w", err))
			}

			// Populate the initial configuration file with defaults.
			config.ResetDefaults()
			_ = config.Save(v)
		}
	}

	_ = v.ReadInConfig()

	// Missing sections keep their defaults.
	config.ResetDefaults()
	err := config.Load(v)
	cobra.CheckErr(err)

	err = config.Global().Validate()
	cobra.CheckErr(err)

	initLogging(config.Global().Log)
}

func initLogging(cfg config.Log) {
	// Flag overrides are not persisted.
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}

	level, err := cfg.GetLevel()
	cobra.CheckErr(err)
	format, err := cfg.GetFormat()
	cobra.CheckErr(err)

	// Logging can only be initialized once per process.
	_ = logging.Initialize(os.Stderr, format, level, nil)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file to use")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log.level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log.format", "", "override the configured log format (logfmt, json)")

	rootCmd.AddCommand(signerCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(serveCmd)
}
