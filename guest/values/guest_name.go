// Package values contains immutable value objects shared by guests and the host.
package values

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GuestName is a validated guest identifier.
// Names are case-sensitive: "Linux" and "linux" are different guests.
type GuestName struct {
	value string
}

// NewGuestName creates a GuestName with strict validation.
// A valid guest name must:
// - Be non-empty after trimming
// - contain only alphanumeric characters, underscores, and hyphens
// - Be at most 64 characters long
func NewGuestName(name string) (GuestName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return GuestName{}, fmt.Errorf("guest name cannot be empty")
	}

	if len(name) > 64 {
		return GuestName{}, fmt.Errorf("guest name too long (max 64 chars)")
	}

	for _, ch := range name {
		if !isValidGuestChar(ch) {
			return GuestName{}, fmt.Errorf("invalid guest name %q: must contain only alphanumeric characters, underscores, and hyphens", name)
		}
	}

	return GuestName{value: name}, nil
}

func isValidGuestChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' ||
		r == '-'
}

// MustNewGuestName creates a GuestName or panics
func MustNewGuestName(name string) GuestName {
	gn, err := NewGuestName(name)
	if err != nil {
		panic(err)
	}
	return gn
}

// String returns the string representation
func (g GuestName) String() string {
	return g.value
}

// IsEmpty returns true if this is the zero value
func (g GuestName) IsEmpty() bool {
	return g.value == ""
}

// Equals checks if two guest names are equal
func (g GuestName) Equals(other GuestName) bool {
	return g.value == other.value
}

// MarshalJSON implements json.Marshaler.
func (g GuestName) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (g *GuestName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid guest name JSON: %w", err)
	}

	name, err := NewGuestName(s)
	if err != nil {
		return err
	}
	*g = name
	return nil
}
