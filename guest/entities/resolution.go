package entities

import (
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Resolution is a successful capability resolution.
type Resolution struct {
	// Owner is the first guest in the parent chain that declares the capability.
	Owner *Descriptor

	// Invocable is the owner's implementation.
	Invocable ports.Invocable

	// Capability is the resolved name.
	Capability values.CapabilityName

	// Chain lists the guest ids visited, starting guest first, owner last.
	Chain []string
}

// OwnerID returns the id of the owning guest.
func (r *Resolution) OwnerID() string {
	if r == nil || r.Owner == nil {
		return ""
	}
	return r.Owner.ID()
}

// Inherited reports whether the capability came from an ancestor of the starting guest.
func (r *Resolution) Inherited() bool {
	return len(r.Chain) > 1
}
