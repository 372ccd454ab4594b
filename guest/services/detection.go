// Package services implements guest detection and capability resolution.
package services

import (
	"context"
	"log/slog"
	"slices"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
)

// Detector forwards detection requests to guests.
// *bridge.Bridge satisfies it.
type Detector interface {
	Detect(ctx context.Context, d *entities.Descriptor, target ports.Target) (bool, error)
}

// DetectionEngine picks the single most specific guest for a target.
type DetectionEngine struct {
	registry registry.GuestRegistry
	detector Detector
	logger   *slog.Logger
}

// DetectionOption configures a DetectionEngine.
type DetectionOption func(*DetectionEngine)

// WithDetectionLogger sets the logger.
func WithDetectionLogger(logger *slog.Logger) DetectionOption {
	return func(e *DetectionEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewDetectionEngine creates a detection engine over reg.
func NewDetectionEngine(reg registry.GuestRegistry, detector Detector, opts ...DetectionOption) *DetectionEngine {
	e := &DetectionEngine{
		registry: reg,
		detector: detector,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	desc  *entities.Descriptor
	chain []*entities.Descriptor
	index int
}

// DetectGuest returns the guest that claims target.
//
// Guests are asked children first. A match that is an ancestor of another
// match is discarded, so a specific guest always wins over its parent.
// Unrelated matches that remain produce AmbiguousMatchError. The first
// guest error stops evaluation and is returned.
func (e *DetectionEngine) DetectGuest(ctx context.Context, target ports.Target) (*entities.Descriptor, error) {
	candidates, err := e.plan()
	if err != nil {
		return nil, err
	}

	var matched []candidate
	for _, c := range candidates {
		ok, err := e.detector.Detect(ctx, c.desc, target)
		if err != nil {
			e.logger.Debug("detection aborted", "guest", c.desc.ID(), "target", target.ID(), "error", err)
			return nil, err
		}
		if ok {
			matched = append(matched, c)
		}
	}

	winners := mostSpecific(matched)
	switch len(winners) {
	case 0:
		return nil, &entities.NoMatchError{Target: target.ID()}
	case 1:
		e.logger.Debug("guest detected", "guest", winners[0].desc.ID(), "target", target.ID())
		return winners[0].desc, nil
	default:
		slices.SortFunc(winners, func(a, b candidate) int { return a.index - b.index })
		ids := make([]string, len(winners))
		for i, w := range winners {
			ids[i] = w.desc.ID()
		}
		return nil, &entities.AmbiguousMatchError{Target: target.ID(), Candidates: ids}
	}
}

// plan orders all guests deepest first. Broken parent links fail here,
// before any guest is contacted.
func (e *DetectionEngine) plan() ([]candidate, error) {
	all := e.registry.All()
	out := make([]candidate, 0, len(all))
	for i, d := range all {
		chain, err := e.registry.Chain(d)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{desc: d, chain: chain, index: i})
	}

	slices.SortStableFunc(out, func(a, b candidate) int {
		return len(b.chain) - len(a.chain)
	})
	return out, nil
}

func mostSpecific(matched []candidate) []candidate {
	shadowed := make(map[string]bool)
	for _, m := range matched {
		for _, anc := range m.chain[1:] {
			shadowed[anc.ID()] = true
		}
	}

	var out []candidate
	for _, m := range matched {
		if !shadowed[m.desc.ID()] {
			out = append(out, m)
		}
	}
	return out
}
