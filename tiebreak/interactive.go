package tiebreak

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
)

// Interactive asks the user to pick a guest: it loads remembered decisions,
// prompts for the rest and persists the ones marked "always".
type Interactive struct {
	store    DecisionStore
	prompter Prompter
	fallback Policy
	logger   *slog.Logger
}

// Option configures an Interactive policy.
type Option func(*Interactive)

// WithStore sets the decision store.
func WithStore(s DecisionStore) Option {
	return func(i *Interactive) { i.store = s }
}

// WithPrompter sets the prompter.
func WithPrompter(p Prompter) Option {
	return func(i *Interactive) { i.prompter = p }
}

// WithFallback sets the policy used when no terminal is attached.
// Without one, non-interactive runs fail with a descriptive error.
func WithFallback(p Policy) Option {
	return func(i *Interactive) { i.fallback = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interactive) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInteractive creates an interactive policy with pluggable store and prompter.
func NewInteractive(opts ...Option) *Interactive {
	i := &Interactive{logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	if i.store == nil {
		i.store = NewFileStore()
	}
	if i.prompter == nil {
		i.prompter = NewTerminalPrompter()
	}
	return i
}

// Choose implements Policy.
func (i *Interactive) Choose(ctx context.Context, target ports.Target, candidates []*entities.Descriptor) (*entities.Descriptor, error) {
	saved, err := i.store.Load()
	if err != nil {
		i.logger.Warn("ignoring unreadable decision store", "path", i.store.ConfigPath(), "error", err)
		saved = &Decisions{}
	}

	if id, ok := saved.Get(target.ID()); ok {
		if d := find(candidates, id); d != nil {
			return d, nil
		}
		i.logger.Info("remembered guest no longer matches", "target", target.ID(), "guest", id)
	}

	req := Request{Target: target.ID(), Candidates: make([]string, len(candidates))}
	for n, d := range candidates {
		req.Candidates[n] = d.ID()
	}

	if !i.prompter.IsInteractive() {
		if i.fallback != nil {
			return i.fallback.Choose(ctx, target, candidates)
		}
		return nil, i.prompter.FormatNonInteractiveError(req)
	}

	choice, always, err := i.prompter.PromptForGuest(req)
	if err != nil {
		return nil, fmt.Errorf("guest selection: %w", err)
	}
	d := find(candidates, choice)
	if d == nil {
		return nil, ambiguous(target, candidates)
	}

	if always {
		next := saved.Clone()
		next.Set(target.ID(), d.ID())
		if err := i.store.Save(next); err != nil {
			i.logger.Warn("failed to save guest decision", "error", err)
		} else {
			i.logger.Info("guest decision saved", "path", i.store.ConfigPath(), "target", target.ID(), "guest", d.ID())
		}
	}
	return d, nil
}

func find(candidates []*entities.Descriptor, id string) *entities.Descriptor {
	i := slices.IndexFunc(candidates, func(d *entities.Descriptor) bool { return d.ID() == id })
	if i < 0 {
		return nil
	}
	return candidates[i]
}
