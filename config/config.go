// Package config contains the oasis-kms configuration.
package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/oasisprotocol/oasis-core/go/common/logging"
)

var global Config

// Directory returns the path to the configuration directory.
func Directory() string {
	return filepath.Join(xdg.ConfigHome, "oasis-kms")
}

// Global returns the global configuration structure.
func Global() *Config {
	return &global
}

// Load loads the global configuration structure from viper.
func Load(v *viper.Viper) error {
	return global.Load(v)
}

// Save saves the global configuration structure to viper.
func Save(v *viper.Viper) error {
	global.viper = v
	return global.Save()
}

// ResetDefaults resets the global configuration to defaults.
func ResetDefaults() {
	global = Default()
}

// Config contains the oasis-kms configuration.
type Config struct {
	viper *viper.Viper

	Signers Signers `mapstructure:"signers"`
	Log     Log     `mapstructure:"log"`
	Server  Server  `mapstructure:"server"`
	Metrics Metrics `mapstructure:"metrics"`
}

// Log contains the logging configuration.
type Log struct {
	// Level is the default log level (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Format is the log format (logfmt, json).
	Format string `mapstructure:"format"`
}

// Validate performs config validation.
func (l *Log) Validate() error {
	if _, err := l.GetLevel(); err != nil {
		return err
	}
	if _, err := l.GetFormat(); err != nil {
		return err
	}
	return nil
}

// GetLevel returns the parsed log level.
func (l *Log) GetLevel() (logging.Level, error) {
	var level logging.Level
	if err := level.Set(l.Level); err != nil {
		return level, fmt.Errorf("malformed log level '%s': %w", l.Level, err)
	}
	return level, nil
}

// GetFormat returns the parsed log format.
func (l *Log) GetFormat() (logging.Format, error) {
	var format logging.Format
	if err := format.Set(l.Format); err != nil {
		return format, fmt.Errorf("malformed log format '%s': %w", l.Format, err)
	}
	return format, nil
}

// Server contains the remote signer server configuration.
type Server struct {
	// Address is the address the gRPC signer service listens on.
	Address string `mapstructure:"address"`
	// Signer is the name of the signer to serve. Empty means the default signer.
	Signer string `mapstructure:"signer"`
	// TLSCert is the path to the PEM-encoded server certificate.
	TLSCert string `mapstructure:"tls_cert"`
	// TLSKey is the path to the PEM-encoded server private key.
	TLSKey string `mapstructure:"tls_key"`
}

// Validate performs config validation.
func (s *Server) Validate() error {
	if s.Signer != "" {
		if err := ValidateIdentifier(s.Signer); err != nil {
			return fmt.Errorf("malformed signer name '%s': %w", s.Signer, err)
		}
	}
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return fmt.Errorf("both tls_cert and tls_key must be set")
	}
	return nil
}

// Metrics contains the metrics configuration.
type Metrics struct {
	// Address is the address the Prometheus endpoint listens on. Empty disables metrics.
	Address string `mapstructure:"address"`
}

// Load loads the configuration structure from viper.
func (cfg *Config) Load(v *viper.Viper) error {
	cfg.viper = v
	return v.Unmarshal(cfg)
}

// encode is needed because mapstructure cannot encode structs into maps recursively.
func encode(in interface{}) (interface{}, error) {
	const tagName = "mapstructure"

	v := reflect.ValueOf(in)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		result := make(map[string]interface{})
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue
			}

			attributes := make(map[string]bool)
			key := field.Name
			if tagValue := field.Tag.Get(tagName); tagValue != "" {
				attrs := strings.Split(tagValue, ",")
				key = attrs[0]
				for _, attr := range attrs[1:] {
					attributes[strings.TrimSpace(attr)] = true
				}
			}

			value, err := encode(v.Field(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("failed to encode field '%s': %w", field.Name, err)
			}

			switch {
			case attributes["remain"]:
				// Remaining fields are merged into the parent.
				if value == nil {
					continue
				}
				remaining, ok := value.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("field '%s' with remain attribute must convert to map[string]interface{}", field.Name)
				}

				for k, val := range remaining {
					if _, exists := result[k]; exists {
						return nil, fmt.Errorf("duplicate key '%s' when processing field '%s' with remain attribute", k, field.Name)
					}
					result[k] = val
				}
			case attributes["omitempty"] && v.Field(i).IsZero():
			default:
				result[key] = value
			}
		}
		return result, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		result := make(map[string]interface{})
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key()
			if k.Kind() != reflect.String {
				return nil, fmt.Errorf("can only convert maps with string keys")
			}

			value, err := encode(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			result[k.String()] = value
		}
		return result, nil
	default:
		return v.Interface(), nil
	}
}

// Save saves the configuration structure to viper.
func (cfg *Config) Save() error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	encCfg, err := encode(cfg)
	if err != nil {
		return err
	}
	rawCfg := encCfg.(map[string]interface{})

	// There is no other way to reset the config, so we use ReadConfig with an empty buffer.
	var buf bytes.Buffer
	_ = cfg.viper.ReadConfig(&buf)
	if err = cfg.viper.MergeConfigMap(rawCfg); err != nil {
		return err
	}

	return cfg.viper.WriteConfig()
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if err := cfg.Signers.Validate(); err != nil {
		return fmt.Errorf("failed to validate signer configuration: %w", err)
	}
	if err := cfg.Log.Validate(); err != nil {
		return fmt.Errorf("failed to validate log configuration: %w", err)
	}
	if err := cfg.Server.Validate(); err != nil {
		return fmt.Errorf("failed to validate server configuration: %w", err)
	}
	return nil
}
