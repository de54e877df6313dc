package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Profile defaults.
const (
	DefaultAPIURL            = "http://127.0.0.1:8080"
	DefaultPushURL           = "ws://127.0.0.1:8080/ws"
	DefaultPageSize          = 100
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultRequestTimeout    = 15 * time.Second
	DefaultReconcileWindow   = 2 * time.Minute
)

// Profile is the per-operator ~/.desk/profiles/<name>/profile.toml.
type Profile struct {
	APIURL      string `toml:"api_url"`
	PushURL     string `toml:"push_url"`
	Token       string `toml:"token"`
	PageSize    int    `toml:"page_size"`
	AutoConnect bool   `toml:"auto_connect"`

	HeartbeatInterval time.Duration `toml:"-"`
	RequestTimeout    time.Duration `toml:"-"`
	ReconcileWindow   time.Duration `toml:"-"`

	// Raw string values for TOML decoding
	HeartbeatIntervalRaw string `toml:"heartbeat_interval,omitempty"`
	RequestTimeoutRaw    string `toml:"request_timeout,omitempty"`
	ReconcileWindowRaw   string `toml:"reconcile_window,omitempty"`
}

// LoadProfile reads a profile file. Environment variables written as
// ${VAR_NAME} are expanded and durations parsed. Connection settings left
// empty are taken from global (which may be nil), then defaults are applied
// and the result validated. A missing file yields the defaults.
func LoadProfile(path string, global *Config) (*Profile, error) {
	var p Profile
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading profile: %w", err)
	default:
		if _, err := toml.Decode(expandEnvVars(string(data)), &p); err != nil {
			return nil, fmt.Errorf("parsing profile: %w", err)
		}
	}

	if err := p.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	global.Inherit(&p)
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating profile: %w", err)
	}
	return &p, nil
}

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVar.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields.
func (p *Profile) ApplyDefaults() {
	if p.APIURL == "" {
		p.APIURL = DefaultAPIURL
	}
	if p.PushURL == "" {
		p.PushURL = DefaultPushURL
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if p.RequestTimeout == 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.ReconcileWindow == 0 {
		p.ReconcileWindow = DefaultReconcileWindow
	}
}

// Validate checks the profile for values the engine cannot work with.
func (p *Profile) Validate() error {
	if p.PageSize < 0 {
		return fmt.Errorf("page_size must be positive, got %d", p.PageSize)
	}
	if err := checkURL("api_url", p.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("push_url", p.PushURL, "ws", "wss"); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"heartbeat_interval": p.HeartbeatInterval,
		"request_timeout":    p.RequestTimeout,
		"reconcile_window":   p.ReconcileWindow,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

func (p *Profile) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"heartbeat_interval", p.HeartbeatIntervalRaw, &p.HeartbeatInterval},
		{"request_timeout", p.RequestTimeoutRaw, &p.RequestTimeout},
		{"reconcile_window", p.ReconcileWindowRaw, &p.ReconcileWindow},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q: want a %v URL", name, raw, schemes)
}
