// Package config carries the server configuration: defaults, an optional
// YAML file, and command-line flags layered in that order.
package config

import (
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Bind        string `yaml:"bind"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Directory   string `yaml:"directory"`
	ReadOnly    bool   `yaml:"read_only"`
	Overwrite   bool   `yaml:"overwrite"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the configuration used when nothing else is given: listen
// on loopback port 69, allow writes, keep serving from the current
// directory without a privilege drop.
func Default() Config {
	return Config{
		Bind:      "127.0.0.1",
		Port:      69,
		Overwrite: true,
		LogLevel:  "info",
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
