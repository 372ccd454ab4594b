// Package tiebreak provides explicit policies for choosing between unrelated
// guests that all detected the same target.
package tiebreak

import (
	"context"
	"slices"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
)

// Policy picks one guest out of an ambiguous detection.
// Candidates are in registration order. Returning an error keeps the ambiguity.
type Policy interface {
	Choose(ctx context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error)

// Choose calls f.
func (f PolicyFunc) Choose(ctx context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error) {
	return f(ctx, target, candidates)
}

// Strict never chooses; the ambiguity is reported to the caller.
type Strict struct{}

// Choose implements Policy.
func (Strict) Choose(_ context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error) {
	return nil, ambiguous(target, candidates)
}

// RegistrationOrder picks the candidate registered first.
type RegistrationOrder struct{}

// Choose implements Policy.
func (RegistrationOrder) Choose(_ context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error) {
	if len(candidates) == 0 {
		return nil, &entities.NoMatchError{Target: target.ID()}
	}
	return candidates[0], nil
}

// Preference picks the first candidate whose id appears earliest in the list.
// Candidates not in the list are never chosen.
type Preference []string

// Choose implements Policy.
func (p Preference) Choose(_ context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error) {
	for _, id := range p {
		i := slices.IndexFunc(candidates, func(d *entities.Descriptor) bool { return d.ID() == id })
		if i >= 0 {
			return candidates[i], nil
		}
	}
	return nil, ambiguous(target, candidates)
}

func ambiguous(target ports.Target, candidates []*entities.Descriptor) error {
	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID()
	}
	return &entities.AmbiguousMatchError{Target: target.ID(), Candidates: ids}
}
