// Package capability provides per-resolution capability tables and an
// in-process guest implementation.
package capability

import (
	"context"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Caller forwards capability queries to a guest.
// *bridge.Bridge satisfies it.
type Caller interface {
	HasCapability(ctx context.Context, d *entities.Descriptor, name values.CapabilityName) (bool, error)
	Capability(ctx context.Context, d *entities.Descriptor, name values.CapabilityName) (ports.Invocable, error)
}

// DetectFunc decides whether a local guest applies to a target.
type DetectFunc func(ctx context.Context, target ports.Target) (bool, error)
