package capability

import (
	"context"
	"fmt"
	"sort"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Local is an in-process guest backed by Go functions.
// Its capability set is fixed at construction; a Local is safe for concurrent use.
type Local struct {
	detect  DetectFunc
	caps    map[string]ports.Invocable
	dynamic func(name values.CapabilityName) bool
}

// LocalOption configures a Local guest.
type LocalOption func(*Local)

// WithCapability registers an implementation under name.
func WithCapability(name string, inv ports.Invocable) LocalOption {
	return func(l *Local) {
		l.caps[name] = inv
	}
}

// WithCapabilityFunc registers a function under name.
func WithCapabilityFunc(name string, fn func(ctx context.Context, target ports.Target, args ...any) (any, error)) LocalOption {
	return WithCapability(name, ports.InvocableFunc(fn))
}

// WithDynamicCapabilities makes HasCapability consult pred for names that were
// not registered statically. Capability still needs a registered implementation.
func WithDynamicCapabilities(pred func(name values.CapabilityName) bool) LocalOption {
	return func(l *Local) {
		l.dynamic = pred
	}
}

// NewLocal creates an in-process guest. A nil detect never matches.
func NewLocal(detect DetectFunc, opts ...LocalOption) *Local {
	l := &Local{
		detect: detect,
		caps:   make(map[string]ports.Invocable),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Detect implements ports.Guest.
func (l *Local) Detect(ctx context.Context, target ports.Target) (bool, error) {
	if l.detect == nil {
		return false, nil
	}
	return l.detect(ctx, target)
}

// HasCapability implements ports.Guest.
func (l *Local) HasCapability(_ context.Context, name values.CapabilityName) (bool, error) {
	if _, ok := l.caps[name.String()]; ok {
		return true, nil
	}
	if l.dynamic != nil {
		return l.dynamic(name), nil
	}
	return false, nil
}

// Capability implements ports.Guest.
func (l *Local) Capability(_ context.Context, name values.CapabilityName) (ports.Invocable, error) {
	inv, ok := l.caps[name.String()]
	if !ok {
		return nil, fmt.Errorf("capability %q is declared but not implemented", name)
	}
	return inv, nil
}

// Names returns the statically registered capability names, sorted.
func (l *Local) Names() []string {
	names := make([]string, 0, len(l.caps))
	for n := range l.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
