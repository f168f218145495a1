// Package config loads marcidb's application configuration from an
// optional TOML file, decoded straight into a Config struct.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the settings serve needs: where the database file lives,
// where the schema source is, and what address to listen on.
type Config struct {
	DataDir    string `toml:"data_dir"`
	SchemaPath string `toml:"schema_path"`
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the configuration serve falls back to when no config
// file is given and no flag overrides a field.
func Default() Config {
	return Config{
		DataDir:    "./data",
		SchemaPath: "./schema.marci",
		ListenAddr: "127.0.0.1:8080",
	}
}

// Load reads path as TOML and overlays it onto Default(); fields absent
// from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if _, err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, nil
}
