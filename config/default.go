package config

// Default returns the default config that should be used in case no configuration file exists.
func Default() Config {
	return Config{
		Log: Log{
			Level:  "info",
			Format: "logfmt",
		},
		Server: Server{
			Address: "127.0.0.1:9100",
		},
	}
}
