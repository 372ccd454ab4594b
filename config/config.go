// Package config loads the host configuration for guest loading and resolution.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	guestlib "github.com/reglet-dev/reglet-guest-sdk"
	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/tiebreak"
)

// Tie-break policy names.
const (
	PolicyStrict            = "strict"
	PolicyRegistrationOrder = "registration_order"
	PolicyPreference        = "preference"
	PolicyInteractive       = "interactive"
)

// HostConfig is the on-disk host configuration.
type HostConfig struct {
	// GuestDirs are searched for guest manifests.
	GuestDirs []string `yaml:"guest_dirs" toml:"guest_dirs"`

	// InvocationTimeout bounds guest calls whose context has no deadline.
	// A Go duration string; empty or "0" disables it.
	InvocationTimeout string `yaml:"invocation_timeout" toml:"invocation_timeout"`

	TieBreak TieBreakConfig `yaml:"tie_break" toml:"tie_break"`

	LogLevel string `yaml:"log_level" toml:"log_level"`

	// MaxManifestBytes caps the size of a single manifest file.
	MaxManifestBytes int64 `yaml:"max_manifest_bytes" toml:"max_manifest_bytes"`

	DetectConcurrency int `yaml:"detect_concurrency" toml:"detect_concurrency"`

	// StrictVersions fails verification when a parent version constraint
	// cannot be checked.
	StrictVersions bool `yaml:"strict_versions" toml:"strict_versions"`

	timeout time.Duration
}

// TieBreakConfig selects how ambiguous detections are settled.
type TieBreakConfig struct {
	Policy        string   `yaml:"policy" toml:"policy"`
	Preferred     []string `yaml:"preferred" toml:"preferred"`
	DecisionsFile string   `yaml:"decisions_file" toml:"decisions_file"`
}

// Default returns the configuration used when no file is given.
func Default() *HostConfig {
	return &HostConfig{
		InvocationTimeout: "30s",
		TieBreak:          TieBreakConfig{Policy: PolicyStrict},
		LogLevel:          "info",
		MaxManifestBytes:  1 << 20,
		DetectConcurrency: 8,
		timeout:           30 * time.Second,
	}
}

// Load reads a YAML or TOML config file, chosen by extension, over the defaults.
func Load(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("decoding config YAML: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("decoding config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding config TOML: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	base := filepath.Dir(path)
	for i, dir := range cfg.GuestDirs {
		if !filepath.IsAbs(dir) {
			cfg.GuestDirs[i] = filepath.Join(base, dir)
		}
	}
	if f := cfg.TieBreak.DecisionsFile; f != "" && !filepath.IsAbs(f) {
		cfg.TieBreak.DecisionsFile = filepath.Join(base, f)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and caches parsed values.
func (c *HostConfig) Validate() error {
	var errs []error

	c.timeout = 0
	if s := strings.TrimSpace(c.InvocationTimeout); s != "" {
		d, err := time.ParseDuration(s)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("invocation_timeout: %w", err))
		case d < 0:
			errs = append(errs, fmt.Errorf("invocation_timeout: must not be negative"))
		default:
			c.timeout = d
		}
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.MaxManifestBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_manifest_bytes: must be positive"))
	}
	if c.DetectConcurrency < 0 {
		errs = append(errs, fmt.Errorf("detect_concurrency: must not be negative"))
	}

	switch c.TieBreak.Policy {
	case "", PolicyStrict, PolicyRegistrationOrder, PolicyInteractive:
	case PolicyPreference:
		if len(c.TieBreak.Preferred) == 0 {
			errs = append(errs, fmt.Errorf("tie_break.preferred: required for policy %q", PolicyPreference))
		}
	default:
		errs = append(errs, fmt.Errorf("tie_break.policy: unknown policy %q", c.TieBreak.Policy))
	}

	return errors.Join(errs...)
}

// Timeout returns the parsed invocation timeout. Call Validate first.
func (c *HostConfig) Timeout() time.Duration {
	return c.timeout
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *HostConfig) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// TieBreakPolicy builds the configured policy. Strict yields nil, which
// leaves ambiguity to the caller.
func (c *HostConfig) TieBreakPolicy(logger *slog.Logger) tiebreak.Policy {
	switch c.TieBreak.Policy {
	case PolicyRegistrationOrder:
		return tiebreak.RegistrationOrder{}
	case PolicyPreference:
		return tiebreak.Preference(c.TieBreak.Preferred)
	case PolicyInteractive:
		var fallback tiebreak.Policy = tiebreak.Strict{}
		if len(c.TieBreak.Preferred) > 0 {
			fallback = tiebreak.Preference(c.TieBreak.Preferred)
		}
		return tiebreak.NewInteractive(
			tiebreak.WithStore(tiebreak.NewFileStore(tiebreak.WithPath(c.TieBreak.DecisionsFile))),
			tiebreak.WithFallback(fallback),
			tiebreak.WithLogger(logger),
		)
	default:
		return nil
	}
}

// RuntimeOptions translates the configuration into runtime options.
func (c *HostConfig) RuntimeOptions(logger *slog.Logger) []guestlib.Option {
	opts := []guestlib.Option{
		guestlib.WithLogger(logger),
		guestlib.WithBridgeOptions(bridge.WithTimeout(c.timeout)),
		guestlib.WithDetectConcurrency(c.DetectConcurrency),
	}
	if p := c.TieBreakPolicy(logger); p != nil {
		opts = append(opts, guestlib.WithTieBreaker(p))
	}
	return opts
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
