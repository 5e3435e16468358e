// Package config loads the settings a varlink service is started with:
// its identity (for org.varlink.service.GetInfo), where it listens, and
// how it logs.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/varlink/govarlink/internal/varlinkerr"
)

// Settings is the top-level configuration for a varlink service process.
type Settings struct {
	Service ServiceConfig `yaml:"service"`
	Listen  ListenConfig  `yaml:"listen"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServiceConfig identifies the service, reported verbatim by
// org.varlink.service.GetInfo.
type ServiceConfig struct {
	Vendor  string `yaml:"vendor"`
	Product string `yaml:"product"`
	Version string `yaml:"version"`
	URL     string `yaml:"url"`
}

// ListenConfig selects a transport and its address. Network is either
// "unix" (a filesystem socket path) or "websocket" (an http listen
// address serving the debug websocket endpoint).
type ListenConfig struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

// LoggingConfig holds the logging level and format read from the config
// file. Nothing in this module reads these values: varlinkd's logger
// writes every level in one plain-text format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// New returns Settings populated with the service's defaults.
func New() *Settings {
	return &Settings{
		Service: ServiceConfig{
			Vendor:  "Example",
			Product: "govarlink",
			Version: "0.1.0",
			URL:     "https://example.org/govarlink",
		},
		Listen: ListenConfig{
			Network: "unix",
			Address: "~/.local/run/govarlink.sock",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads Settings from a YAML file at path, starting from New()'s
// defaults so a config file only needs to override what it cares about.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, varlinkerr.Wrapf(err, "failed to read config file %s", path)
	}

	settings := New()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, varlinkerr.Wrapf(err, "failed to parse config file %s", path)
	}

	expanded, err := ExpandPath(settings.Listen.Address)
	if err != nil {
		return nil, err
	}
	settings.Listen.Address = expanded

	return settings, nil
}

// ExpandPath expands a leading ~ in path to the user's home directory.
// Paths that don't start with ~ (including websocket addresses like
// "localhost:8080") are returned unchanged.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", varlinkerr.Wrap(err, "failed to determine user home directory")
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
