package server

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress  = ":5125"
	defaultLogLevel = "INFO"
)

// Logging is the logging configuration.
type Logging struct {
	// Disable discards all log output.
	Disable bool

	// File is the log destination; empty means stdout.
	File string

	// Level is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	Level string
}

func (l *Logging) validate() error {
	switch l.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
		return nil
	}
	return fmt.Errorf("server: invalid logging level %q", l.Level)
}

// Config is the server configuration.
type Config struct {
	// Address is the QUIC listen address.
	Address string

	Logging Logging
}

// FixupAndValidate applies defaults and checks the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Address == "" {
		c.Address = defaultAddress
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return c.Logging.validate()
}

// LoadFile loads and validates a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("server: config %s: %w", path, err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
