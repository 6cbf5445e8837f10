// Package config provides functionality for managing configuration options
// for the application using command-line flags and environment variables.
package config

import (
	"encoding/json"
	"flag"
	"log"
	"os"
)

// Options holds the configuration values for both entrypoints. The
// relay uses Addr and DatabaseDSN; the client uses the rest.
type Options struct {
	// Addr defines the relay's listening address (ip:port).
	Addr string

	// DatabaseDSN holds the relay's PostgreSQL connection string.
	DatabaseDSN string

	// Config is the path to the config file.
	Config string

	// RelayURL is the base URL of the relay the client syncs with.
	RelayURL string

	// VaultPath is the client's local store file.
	VaultPath string

	// DeviceID identifies this client installation on the sync wire.
	DeviceID string

	// IdleMinutes is the auto-lock idle window in minutes.
	IdleMinutes int

	// MergePolicy selects conflict resolution: "last_write_wins" or
	// "manual".
	MergePolicy string

	// LogLevel sets the zap level ("debug", "info", "warn", "error").
	LogLevel string
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Addr, "a", "localhost:8080", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	flag.StringVar(&options.RelayURL, "relay", "http://localhost:8080", "relay base URL")
	flag.StringVar(&options.VaultPath, "vault", "passlock.db", "path to the local vault store")
	flag.StringVar(&options.DeviceID, "device", "", "device identifier (generated when empty)")
	flag.IntVar(&options.IdleMinutes, "idle", 15, "auto-lock idle window in minutes")
	flag.StringVar(&options.MergePolicy, "policy", "last_write_wins", "conflict resolution policy")
	flag.StringVar(&options.LogLevel, "loglevel", "info", "log level")
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct
// containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Addr = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if relayURL := os.Getenv("RELAY_URL"); relayURL != "" {
		options.RelayURL = relayURL
	}

	return options
}
