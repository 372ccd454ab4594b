package registry

import "github.com/reglet-dev/reglet-guest-sdk/guest/entities"

// GuestRegistry holds the guests known to one host.
// Descriptors are never removed once registered.
type GuestRegistry interface {
	// Register adds a descriptor. Fails with DuplicateIDError if the id is taken.
	Register(d *entities.Descriptor) error

	// Lookup returns the descriptor registered under id.
	Lookup(id string) (*entities.Descriptor, error)

	// Parent returns d's parent, or (nil, nil) when d has none.
	// A declared but unregistered parent yields UnknownParentError.
	Parent(d *entities.Descriptor) (*entities.Descriptor, error)

	// All returns every descriptor in registration order.
	All() []*entities.Descriptor

	// Chain returns d followed by its ancestors, nearest first.
	Chain(d *entities.Descriptor) ([]*entities.Descriptor, error)

	// Verify reports every topology defect: unknown parents, cycles and
	// parent version mismatches.
	Verify() error
}
