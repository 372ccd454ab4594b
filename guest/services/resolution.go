package services

import (
	"context"
	"log/slog"

	"github.com/reglet-dev/reglet-guest-sdk/capability"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
)

// CapabilityResolver finds the guest that implements a capability by
// walking up the parent chain from a starting guest.
type CapabilityResolver struct {
	registry registry.GuestRegistry
	caller   capability.Caller
	logger   *slog.Logger
}

// ResolverOption configures a CapabilityResolver.
type ResolverOption func(*CapabilityResolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *CapabilityResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewCapabilityResolver creates a resolver over reg.
func NewCapabilityResolver(reg registry.GuestRegistry, caller capability.Caller, opts ...ResolverOption) *CapabilityResolver {
	r := &CapabilityResolver{
		registry: reg,
		caller:   caller,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the nearest guest in start's chain that declares name.
// The walk visits each guest at most once.
func (r *CapabilityResolver) Resolve(ctx context.Context, start *entities.Descriptor, name values.CapabilityName) (*entities.Resolution, error) {
	return r.resolve(ctx, start, name, make(map[string]*capability.Table))
}

// ResolveByID resolves starting from the guest registered under id.
func (r *CapabilityResolver) ResolveByID(ctx context.Context, id string, name values.CapabilityName) (*entities.Resolution, error) {
	start, err := r.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, start, name)
}

// Capabilities reports which of names are available to start, inherited
// ones included. Resolution errors other than not-found abort the query.
func (r *CapabilityResolver) Capabilities(ctx context.Context, start *entities.Descriptor, names ...values.CapabilityName) (map[string]*entities.Resolution, error) {
	tables := make(map[string]*capability.Table)
	out := make(map[string]*entities.Resolution, len(names))
	for _, name := range names {
		res, err := r.resolve(ctx, start, name, tables)
		if err != nil {
			if entities.Kind(err) == entities.KindNotFound {
				continue
			}
			return nil, err
		}
		out[name.String()] = res
	}
	return out, nil
}

func (r *CapabilityResolver) resolve(ctx context.Context, start *entities.Descriptor, name values.CapabilityName, tables map[string]*capability.Table) (*entities.Resolution, error) {
	visited := make(map[string]bool)
	var chain []string

	for cur := start; ; {
		if visited[cur.ID()] {
			return nil, &entities.CycleError{Chain: append(chain, cur.ID())}
		}
		visited[cur.ID()] = true
		chain = append(chain, cur.ID())

		table, ok := tables[cur.ID()]
		if !ok {
			table = capability.NewTable(cur, r.caller)
			tables[cur.ID()] = table
		}

		has, err := table.Has(ctx, name)
		if err != nil {
			return nil, err
		}
		if has {
			inv, err := table.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			r.logger.Debug("capability resolved",
				"guest", start.ID(), "capability", name.String(), "owner", cur.ID(), "depth", len(chain)-1)
			return &entities.Resolution{
				Owner:      cur,
				Invocable:  inv,
				Capability: name,
				Chain:      chain,
			}, nil
		}

		parent, err := r.registry.Parent(cur)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, &entities.CapabilityNotFoundError{
				Guest:      start.ID(),
				Capability: name.String(),
				Chain:      chain,
			}
		}
		cur = parent
	}
}
