// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the nyanstream
// binary.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --config flag, or
//   - the NYANSTREAM_CONFIG environment variable.
//
// There are no fallbacks or automatic discovery: when neither is set,
// the defaults apply unchanged. Command-line flags override file
// values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config
// flag is given.
const EnvVar = "NYANSTREAM_CONFIG"

// Config holds the tunable parameters of the streaming engine. The
// zero value is not usable; start from Default().
type Config struct {
	// TelnetAddress is the TCP listen address for telnet mode.
	// The --port flag overrides the port part.
	TelnetAddress string `yaml:"telnet_address"`

	// HTTPAddress is the TCP listen address for HTTP mode.
	// The --port flag overrides the port part.
	HTTPAddress string `yaml:"http_address"`

	// TickInterval is the shared animation heartbeat. Every live
	// session observes the same frame index progression at this
	// cadence.
	TickInterval Duration `yaml:"tick_interval"`

	// NegotiationTimeout bounds how long a telnet connection may
	// spend in window-size negotiation before the default viewport
	// applies.
	NegotiationTimeout Duration `yaml:"negotiation_timeout"`

	// WriteTimeout bounds a single frame write to one client so a
	// stalled consumer cannot hold up the tick for others.
	WriteTimeout Duration `yaml:"write_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TelnetAddress:      ":2323",
		HTTPAddress:        ":3000",
		TickInterval:       Duration(90 * time.Millisecond),
		NegotiationTimeout: Duration(500 * time.Millisecond),
		WriteTimeout:       Duration(2 * time.Second),
	}
}

// Load reads the configuration file at path, or at $NYANSTREAM_CONFIG
// when path is empty. When neither is set, the defaults are returned.
// File values overlay the defaults; absent keys keep their default.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", time.Duration(c.TickInterval))
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("negotiation_timeout must be positive, got %v", time.Duration(c.NegotiationTimeout))
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %v", time.Duration(c.WriteTimeout))
	}
	if c.TelnetAddress == "" {
		return fmt.Errorf("telnet_address must not be empty")
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("http_address must not be empty")
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings in
// time.ParseDuration syntax ("90ms", "2s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
