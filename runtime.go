// Package guestlib wires guest registration, detection, capability
// resolution and invocation into one host-facing runtime.
package guestlib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/services"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
	"github.com/reglet-dev/reglet-guest-sdk/tiebreak"
)

// Runtime is the host orchestration entry point. It owns one registry.
type Runtime struct {
	registry          *registry.Registry
	bridge            *bridge.Bridge
	detector          *services.DetectionEngine
	resolver          *services.CapabilityResolver
	tieBreaker        tiebreak.Policy
	detectConcurrency int
	logger            *slog.Logger
}

// New creates a Runtime.
func New(opts ...Option) *Runtime {
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := cfg.registry
	if reg == nil {
		reg = registry.NewRegistry(registry.WithLogger(cfg.logger))
	}
	b := cfg.bridge
	if b == nil {
		b = bridge.New(append([]bridge.Option{bridge.WithLogger(cfg.logger)}, cfg.bridgeOpts...)...)
	}

	return &Runtime{
		registry:          reg,
		bridge:            b,
		detector:          services.NewDetectionEngine(reg, b, services.WithDetectionLogger(cfg.logger)),
		resolver:          services.NewCapabilityResolver(reg, b, services.WithResolverLogger(cfg.logger)),
		tieBreaker:        cfg.tieBreaker,
		detectConcurrency: cfg.detectConcurrency,
		logger:            cfg.logger,
	}
}

// Register adds a guest.
func (r *Runtime) Register(d *entities.Descriptor) error {
	return r.registry.Register(d)
}

// Registry returns the runtime's registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Bridge returns the runtime's bridge.
func (r *Runtime) Bridge() *bridge.Bridge {
	return r.bridge
}

// Verify reports topology defects in the registered guests.
func (r *Runtime) Verify() error {
	return r.registry.Verify()
}

// DetectGuest returns the most specific guest that claims target.
func (r *Runtime) DetectGuest(ctx context.Context, target ports.Target) (*entities.Descriptor, error) {
	d, err := r.detector.DetectGuest(ctx, target)
	if err == nil || r.tieBreaker == nil {
		return d, err
	}

	var amb *entities.AmbiguousMatchError
	if !errors.As(err, &amb) {
		return nil, err
	}

	candidates := make([]*entities.Descriptor, 0, len(amb.Candidates))
	for _, id := range amb.Candidates {
		c, lerr := r.registry.Lookup(id)
		if lerr != nil {
			return nil, lerr
		}
		candidates = append(candidates, c)
	}

	chosen, cerr := r.tieBreaker.Choose(ctx, target, candidates)
	if cerr != nil {
		return nil, cerr
	}
	if !slices.Contains(candidates, chosen) {
		return nil, fmt.Errorf("tie-break chose %v, which is not a candidate: %w", chosen, err)
	}
	r.logger.Info("ambiguous detection resolved by policy", "target", target.ID(), "guest", chosen.ID(), "candidates", amb.Candidates)
	return chosen, nil
}

// Resolve finds the owner of capability name for the guest registered under guestID.
func (r *Runtime) Resolve(ctx context.Context, guestID, name string) (*entities.Resolution, error) {
	cn, err := values.NewCapabilityName(name)
	if err != nil {
		return nil, err
	}
	return r.resolver.ResolveByID(ctx, guestID, cn)
}

// Capabilities reports which of names the guest registered under guestID can use.
func (r *Runtime) Capabilities(ctx context.Context, guestID string, names ...string) (map[string]*entities.Resolution, error) {
	start, err := r.registry.Lookup(guestID)
	if err != nil {
		return nil, err
	}
	cns := make([]values.CapabilityName, 0, len(names))
	for _, n := range names {
		cn, err := values.NewCapabilityName(n)
		if err != nil {
			return nil, err
		}
		cns = append(cns, cn)
	}
	return r.resolver.Capabilities(ctx, start, cns...)
}

// Invoke resolves name from guestID and runs it against target.
func (r *Runtime) Invoke(ctx context.Context, target ports.Target, guestID, name string, args ...any) (any, error) {
	res, err := r.Resolve(ctx, guestID, name)
	if err != nil {
		return nil, err
	}
	return r.bridge.Invoke(ctx, res, target, args...)
}

// Capability detects the guest for target, resolves name and invokes it.
func (r *Runtime) Capability(ctx context.Context, target ports.Target, name string, args ...any) (any, error) {
	cn, err := values.NewCapabilityName(name)
	if err != nil {
		return nil, err
	}
	d, err := r.DetectGuest(ctx, target)
	if err != nil {
		return nil, err
	}
	res, err := r.resolver.Resolve(ctx, d, cn)
	if err != nil {
		return nil, err
	}
	return r.bridge.Invoke(ctx, res, target, args...)
}

// DetectResult is the outcome of detection for one target.
type DetectResult struct {
	Target ports.Target
	Guest  *entities.Descriptor
	Err    error
}

// DetectMany runs detection for several targets in parallel.
// A failure for one target does not stop the others. Results keep input order.
func (r *Runtime) DetectMany(ctx context.Context, targets []ports.Target) []DetectResult {
	results := make([]DetectResult, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(r.detectConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			d, err := r.DetectGuest(ctx, t)
			results[i] = DetectResult{Target: t, Guest: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
