package values

import "maps"

// StaticTarget is a read-only target snapshot: an id plus a set of facts.
// It is what a guest on the far side of a process or runtime boundary sees.
type StaticTarget struct {
	id    string
	facts map[string]string
}

// NewTarget creates a target snapshot. The facts map is copied.
func NewTarget(id string, facts map[string]string) StaticTarget {
	return StaticTarget{id: id, facts: maps.Clone(facts)}
}

// ID returns the target identifier.
func (t StaticTarget) ID() string {
	return t.id
}

// Facts returns a copy of the target facts.
func (t StaticTarget) Facts() map[string]string {
	return maps.Clone(t.facts)
}

// Fact returns a single fact.
func (t StaticTarget) Fact(key string) (string, bool) {
	v, ok := t.facts[key]
	return v, ok
}
