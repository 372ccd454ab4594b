package capability

import (
	"context"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Table caches one guest's answers for the duration of a single resolution.
// A Table is not safe for concurrent use and must not outlive its resolution.
type Table struct {
	owner   *entities.Descriptor
	caller  Caller
	has     map[string]bool
	entries map[string]ports.Invocable
}

// NewTable creates an empty table in front of owner.
func NewTable(owner *entities.Descriptor, caller Caller) *Table {
	return &Table{
		owner:   owner,
		caller:  caller,
		has:     make(map[string]bool),
		entries: make(map[string]ports.Invocable),
	}
}

// Owner returns the guest behind the table.
func (t *Table) Owner() *entities.Descriptor {
	return t.owner
}

// Has reports whether the owner itself implements name.
func (t *Table) Has(ctx context.Context, name values.CapabilityName) (bool, error) {
	key := name.String()
	if v, ok := t.has[key]; ok {
		return v, nil
	}

	v, err := t.caller.HasCapability(ctx, t.owner, name)
	if err != nil {
		return false, err
	}
	t.has[key] = v
	return v, nil
}

// Get returns the owner's implementation of name.
// It fails with CapabilityNotFoundError when the owner does not declare name.
func (t *Table) Get(ctx context.Context, name values.CapabilityName) (ports.Invocable, error) {
	key := name.String()
	if inv, ok := t.entries[key]; ok {
		return inv, nil
	}

	has, err := t.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, &entities.CapabilityNotFoundError{
			Guest:      t.owner.ID(),
			Capability: key,
			Chain:      []string{t.owner.ID()},
		}
	}

	inv, err := t.caller.Capability(ctx, t.owner, name)
	if err != nil {
		return nil, err
	}
	t.entries[key] = inv
	return inv, nil
}
