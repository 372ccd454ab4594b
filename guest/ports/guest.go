// Package ports defines the contracts between the resolution core and guests.
package ports

import (
	"context"

	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Target is an opaque handle to a managed machine.
// Guests read through it; they never mutate it.
type Target interface {
	ID() string
	Facts() map[string]string
}

// Invocable is a resolved capability implementation.
type Invocable interface {
	Invoke(ctx context.Context, target Target, args ...any) (any, error)
}

// InvocableFunc adapts a function to Invocable.
type InvocableFunc func(ctx context.Context, target Target, args ...any) (any, error)

// Invoke calls f.
func (f InvocableFunc) Invoke(ctx context.Context, target Target, args ...any) (any, error) {
	return f(ctx, target, args...)
}

// Guest is the uniform guest handle. In-process, RPC and WASM guests all
// implement it; the resolver never asks which side of a boundary a guest is on.
type Guest interface {
	// Detect reports whether the guest applies to the target.
	Detect(ctx context.Context, target Target) (bool, error)

	// HasCapability reports whether the guest itself implements the capability.
	// Inherited capabilities are not included.
	HasCapability(ctx context.Context, name values.CapabilityName) (bool, error)

	// Capability returns the implementation of a capability the guest declares.
	Capability(ctx context.Context, name values.CapabilityName) (Invocable, error)
}

// Describer is implemented by guests that can report their own manifest,
// typically guests living in another process or runtime.
type Describer interface {
	Manifest(ctx context.Context) (values.Manifest, error)
}
