package guestlib

import (
	"log/slog"

	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/observability"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
	"github.com/reglet-dev/reglet-guest-sdk/tiebreak"
)

type runtimeConfig struct {
	logger            *slog.Logger
	registry          *registry.Registry
	bridgeOpts        []bridge.Option
	bridge            *bridge.Bridge
	tieBreaker        tiebreak.Policy
	detectConcurrency int
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		logger:            slog.Default(),
		detectConcurrency: 8,
	}
}

// Option configures a Runtime.
type Option func(*runtimeConfig)

// WithLogger sets the logger used by the runtime and the components it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry uses an existing registry instead of an empty one.
func WithRegistry(reg *registry.Registry) Option {
	return func(c *runtimeConfig) {
		c.registry = reg
	}
}

// WithBridgeOptions configures the bridge created by the runtime.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(c *runtimeConfig) {
		c.bridgeOpts = append(c.bridgeOpts, opts...)
	}
}

// WithBridge uses an existing bridge. WithBridgeOptions is ignored.
func WithBridge(b *bridge.Bridge) Option {
	return func(c *runtimeConfig) {
		c.bridge = b
	}
}

// WithMiddleware adds bridge middleware.
func WithMiddleware(mw ...bridge.Middleware) Option {
	return WithBridgeOptions(bridge.WithMiddleware(mw...))
}

// WithMetrics records every guest call in m.
func WithMetrics(m *observability.Metrics) Option {
	return WithMiddleware(m.Middleware())
}

// WithTieBreaker resolves ambiguous detections with p.
// Without it, ambiguity is returned as AmbiguousMatchError.
func WithTieBreaker(p tiebreak.Policy) Option {
	return func(c *runtimeConfig) {
		c.tieBreaker = p
	}
}

// WithDetectConcurrency bounds how many targets DetectMany evaluates at once.
func WithDetectConcurrency(n int) Option {
	return func(c *runtimeConfig) {
		if n > 0 {
			c.detectConcurrency = n
		}
	}
}
