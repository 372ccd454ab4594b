package values

import (
	"fmt"
	"strings"
	"unicode"
)

// CapabilityName identifies a requested guest operation.
// Equality is by name; names are case-sensitive and never trimmed.
type CapabilityName struct {
	value string
}

// NewCapabilityName validates and wraps a capability name.
func NewCapabilityName(name string) (CapabilityName, error) {
	if name == "" {
		return CapabilityName{}, fmt.Errorf("capability name cannot be empty")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return CapabilityName{}, fmt.Errorf("invalid capability name %q: must not contain whitespace", name)
	}
	return CapabilityName{value: name}, nil
}

// MustNewCapabilityName creates a CapabilityName or panics.
func MustNewCapabilityName(name string) CapabilityName {
	cn, err := NewCapabilityName(name)
	if err != nil {
		panic(err)
	}
	return cn
}

func (c CapabilityName) String() string {
	return c.value
}

// IsEmpty returns true for the zero value.
func (c CapabilityName) IsEmpty() bool {
	return c.value == ""
}

// Equals checks if two capability names are equal.
func (c CapabilityName) Equals(other CapabilityName) bool {
	return c.value == other.value
}
