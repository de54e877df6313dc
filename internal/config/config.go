package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the global ~/.desk/config.toml shared by every profile.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Backend        Backend `toml:"backend"`
}

// Backend holds connection settings a profile inherits when it leaves them
// unset, so a team of operators can share one hub address and token.
type Backend struct {
	APIURL  string `toml:"api_url,omitempty"`
	PushURL string `toml:"push_url,omitempty"`
	Token   string `toml:"token,omitempty"`
}

// Load reads the global config. A missing file is an empty config.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Inherit copies backend settings into p wherever p has none.
func (c *Config) Inherit(p *Profile) {
	if c == nil || p == nil {
		return
	}
	if p.APIURL == "" {
		p.APIURL = c.Backend.APIURL
	}
	if p.PushURL == "" {
		p.PushURL = c.Backend.PushURL
	}
	if p.Token == "" {
		p.Token = c.Backend.Token
	}
}

// Save encodes v as TOML and replaces path with it. The file is written next
// to its destination and renamed into place, so readers never observe a
// half-written profile.
func Save(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := toml.NewEncoder(tmp).Encode(v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
