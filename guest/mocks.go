// Package guest holds test doubles shared by the guest packages.
package guest

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// MockGuest implements ports.Guest for testing and counts every call.
type MockGuest struct {
	Matches    bool
	DetectErr  error
	Caps       map[string]ports.Invocable
	HasErr     error
	CapErr     error
	DetectHook func(ctx context.Context, target ports.Target)

	mu          sync.Mutex
	detectCalls int
	hasCalls    int
	capCalls    int
}

var _ ports.Guest = (*MockGuest)(nil)

// NewMockGuest creates a mock that detects when matches is true and
// declares the given capabilities, each returning its own name.
func NewMockGuest(matches bool, caps ...string) *MockGuest {
	m := &MockGuest{Matches: matches, Caps: make(map[string]ports.Invocable)}
	for _, c := range caps {
		name := c
		m.Caps[c] = ports.InvocableFunc(func(context.Context, ports.Target, ...any) (any, error) {
			return name, nil
		})
	}
	return m
}

func (m *MockGuest) Detect(ctx context.Context, target ports.Target) (bool, error) {
	m.mu.Lock()
	m.detectCalls++
	m.mu.Unlock()
	if m.DetectHook != nil {
		m.DetectHook(ctx, target)
	}
	if m.DetectErr != nil {
		return false, m.DetectErr
	}
	return m.Matches, nil
}

func (m *MockGuest) HasCapability(_ context.Context, name values.CapabilityName) (bool, error) {
	m.mu.Lock()
	m.hasCalls++
	m.mu.Unlock()
	if m.HasErr != nil {
		return false, m.HasErr
	}
	_, ok := m.Caps[name.String()]
	return ok, nil
}

func (m *MockGuest) Capability(_ context.Context, name values.CapabilityName) (ports.Invocable, error) {
	m.mu.Lock()
	m.capCalls++
	m.mu.Unlock()
	if m.CapErr != nil {
		return nil, m.CapErr
	}
	return m.Caps[name.String()], nil
}

// DetectCalls returns how often Detect ran.
func (m *MockGuest) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectCalls
}

// HasCapabilityCalls returns how often HasCapability ran.
func (m *MockGuest) HasCapabilityCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasCalls
}

// CapabilityCalls returns how often Capability ran.
func (m *MockGuest) CapabilityCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capCalls
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
