// Package registry implements the in-memory guest registry.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
)

// Registry implements GuestRegistry using in-memory storage.
// It is an explicit instance; hosts may keep as many as they need.
type Registry struct {
	guests         map[string]*entities.Descriptor
	order          []*entities.Descriptor
	mu             sync.RWMutex
	strictVersions bool
	logger         *slog.Logger
}

var _ GuestRegistry = (*Registry)(nil)

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithStrictVersions makes Verify fail when a guest declares a parent
// version constraint but the parent has no parseable version.
func WithStrictVersions(strict bool) RegistryOption {
	return func(r *Registry) {
		r.strictVersions = strict
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty guest registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		guests: make(map[string]*entities.Descriptor),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a descriptor.
func (r *Registry) Register(d *entities.Descriptor) error {
	if d == nil {
		return errors.New("register: nil descriptor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.guests[d.ID()]; exists {
		return &entities.DuplicateIDError{ID: d.ID()}
	}
	r.guests[d.ID()] = d
	r.order = append(r.order, d)

	r.logger.Debug("guest registered", "guest", d.ID(), "parent", d.ParentName())
	return nil
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (*entities.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.guests[id]
	if !ok {
		return nil, &entities.GuestNotFoundError{ID: id}
	}
	return d, nil
}

// Parent returns d's parent.
func (r *Registry) Parent(d *entities.Descriptor) (*entities.Descriptor, error) {
	if !d.HasParent() {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.guests[d.ParentName()]
	if !ok {
		return nil, &entities.UnknownParentError{Guest: d.ID(), Parent: d.ParentName()}
	}
	return p, nil
}

// All returns a snapshot of every descriptor in registration order.
func (r *Registry) All() []*entities.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered guests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Chain returns d followed by its ancestors.
// It stops after at most len(registry)+1 steps.
func (r *Registry) Chain(d *entities.Descriptor) ([]*entities.Descriptor, error) {
	chain := []*entities.Descriptor{d}
	seen := map[string]bool{d.ID(): true}

	for cur := d; ; {
		p, err := r.Parent(cur)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return chain, nil
		}
		if seen[p.ID()] {
			return nil, &entities.CycleError{Chain: append(ids(chain), p.ID())}
		}
		seen[p.ID()] = true
		chain = append(chain, p)
		cur = p
	}
}

// Verify reports every topology defect joined into one error.
func (r *Registry) Verify() error {
	var errs []error
	cycles := make(map[string]bool)

	for _, d := range r.All() {
		_, err := r.Chain(d)

		var cycle *entities.CycleError
		switch {
		case err == nil:
		case errors.As(err, &cycle):
			key := cycleKey(cycle.Chain)
			if cycles[key] {
				continue
			}
			cycles[key] = true
			errs = append(errs, err)
			continue
		case errors.Is(err, entities.ErrUnknownParent):
			// Reported once below, for the guest that declares it.
			if _, perr := r.Parent(d); perr != nil {
				errs = append(errs, perr)
			}
			continue
		default:
			errs = append(errs, err)
			continue
		}

		if err := r.checkParentVersion(d); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		r.logger.Warn("guest topology has defects", "count", len(errs))
	}
	return errors.Join(errs...)
}

// ParentVersionError reports a parent whose version does not satisfy the
// constraint declared by its child.
type ParentVersionError struct {
	Guest      string
	Parent     string
	Constraint string
	Version    string
	Reason     string
}

func (e *ParentVersionError) Error() string {
	return fmt.Sprintf("guest %q requires parent %q %s, found %q: %s",
		e.Guest, e.Parent, e.Constraint, e.Version, e.Reason)
}

func (r *Registry) checkParentVersion(d *entities.Descriptor) error {
	m := d.Manifest()
	if m.ParentVersion == "" || !d.HasParent() {
		return nil
	}
	parent, err := r.Parent(d)
	if err != nil || parent == nil {
		return err
	}

	verr := &ParentVersionError{
		Guest:      d.ID(),
		Parent:     parent.ID(),
		Constraint: m.ParentVersion,
		Version:    parent.Manifest().Version,
	}

	constraint, err := semver.NewConstraint(m.ParentVersion)
	if err != nil {
		verr.Reason = fmt.Sprintf("invalid constraint: %v", err)
		return verr
	}

	if verr.Version == "" {
		if r.strictVersions {
			verr.Reason = "parent has no version"
			return verr
		}
		return nil
	}

	v, err := semver.NewVersion(verr.Version)
	if err != nil {
		verr.Reason = fmt.Sprintf("invalid parent version: %v", err)
		return verr
	}
	if ok, reasons := constraint.Validate(v); !ok {
		msgs := make([]string, 0, len(reasons))
		for _, re := range reasons {
			msgs = append(msgs, re.Error())
		}
		verr.Reason = strings.Join(msgs, "; ")
		return verr
	}
	return nil
}

// cycleKey identifies a cycle independent of where the walk entered it.
func cycleKey(chain []string) string {
	if len(chain) == 0 {
		return ""
	}
	start := slices.Index(chain[:len(chain)-1], chain[len(chain)-1])
	loop := slices.Clone(chain[start : len(chain)-1])
	slices.Sort(loop)
	return strings.Join(loop, "\x00")
}

func ids(ds []*entities.Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID()
	}
	return out
}
