// Package entities contains the domain entities of guest resolution.
package entities

import (
	"fmt"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Descriptor wraps one guest: its id, its declared parent and its handle.
// Descriptors are immutable once created.
type Descriptor struct {
	id       values.GuestName
	parent   string
	guest    ports.Guest
	manifest values.Manifest
}

// NewDescriptor creates a descriptor from a manifest and a guest handle.
func NewDescriptor(manifest values.Manifest, guest ports.Guest) (*Descriptor, error) {
	id, err := values.NewGuestName(manifest.Name)
	if err != nil {
		return nil, err
	}
	if guest == nil {
		return nil, fmt.Errorf("guest %q has no handle", id)
	}

	var parent string
	if manifest.Parent != "" {
		pn, err := values.NewGuestName(manifest.Parent)
		if err != nil {
			return nil, fmt.Errorf("guest %q: invalid parent: %w", id, err)
		}
		parent = pn.String()
	}

	manifest.Name = id.String()
	manifest.Parent = parent
	manifest.Capabilities = append([]string(nil), manifest.Capabilities...)

	return &Descriptor{
		id:       id,
		parent:   parent,
		guest:    guest,
		manifest: manifest,
	}, nil
}

// Define is a shorthand for a descriptor with only a name and a parent.
func Define(name, parent string, guest ports.Guest) (*Descriptor, error) {
	return NewDescriptor(values.Manifest{Name: name, Parent: parent}, guest)
}

// MustDefine is Define that panics on error. Intended for tests and static tables.
func MustDefine(name, parent string, guest ports.Guest) *Descriptor {
	d, err := Define(name, parent, guest)
	if err != nil {
		panic(err)
	}
	return d
}

// ID returns the guest id.
func (d *Descriptor) ID() string {
	return d.id.String()
}

// Name returns the validated guest name.
func (d *Descriptor) Name() values.GuestName {
	return d.id
}

// ParentName returns the declared parent, or "" when there is none.
func (d *Descriptor) ParentName() string {
	return d.parent
}

// HasParent reports whether a parent is declared.
func (d *Descriptor) HasParent() bool {
	return d.parent != ""
}

// Guest returns the guest handle.
func (d *Descriptor) Guest() ports.Guest {
	return d.guest
}

// Manifest returns a copy of the guest manifest.
func (d *Descriptor) Manifest() values.Manifest {
	m := d.manifest
	m.Capabilities = append([]string(nil), d.manifest.Capabilities...)
	return m
}

func (d *Descriptor) String() string {
	if d.parent == "" {
		return d.ID()
	}
	return d.ID() + " < " + d.parent
}
