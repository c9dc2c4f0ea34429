package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI state. It holds the session bearer token
// between invocations, so the file is written 0600 and lives under the
// user's home unless PHIGATE_CONFIG points elsewhere.
type CLIConfig struct {
	Address   string `yaml:"address"`
	Token     string `yaml:"token"`
	TLSCACert string `yaml:"tls_ca_cert"`
	// Format, when set, becomes the default output format so operators who
	// always want json don't pass --format every time.
	Format string `yaml:"format,omitempty"`
}

var cfg CLIConfig

func configPath() string {
	if p := os.Getenv("PHIGATE_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".phigate", "config.yaml")
}

// loadConfig loads CLI state from disk, falling back to defaults. A missing
// or unreadable file is not an error: the first `session issue` creates it.
func loadConfig() {
	cfg = CLIConfig{
		Address: "http://127.0.0.1:8300",
	}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
	if cfg.Format != "" && outputFormat == "table" {
		outputFormat = cfg.Format
	}
}

// saveConfig persists CLI state. The file carries the session token, hence
// the restrictive modes.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
