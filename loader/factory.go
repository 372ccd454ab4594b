package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Factory opens a guest handle for a manifest. dir is the directory holding
// the manifest; artifact paths are relative to it.
type Factory interface {
	Open(ctx context.Context, manifest values.Manifest, dir string) (ports.Guest, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, manifest values.Manifest, dir string) (ports.Guest, error)

// Open calls f.
func (f FactoryFunc) Open(ctx context.Context, manifest values.Manifest, dir string) (ports.Guest, error) {
	return f(ctx, manifest, dir)
}

// NativeFactory serves in-process guests registered by name.
type NativeFactory struct {
	mu     sync.RWMutex
	guests map[string]ports.Guest
}

// NewNativeFactory creates an empty native factory.
func NewNativeFactory() *NativeFactory {
	return &NativeFactory{guests: make(map[string]ports.Guest)}
}

// Add makes g available to manifests named name.
func (f *NativeFactory) Add(name string, g ports.Guest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guests[name] = g
}

// Open implements Factory.
func (f *NativeFactory) Open(_ context.Context, manifest values.Manifest, _ string) (ports.Guest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	g, ok := f.guests[manifest.Name]
	if !ok {
		return nil, fmt.Errorf("no native implementation for guest %q", manifest.Name)
	}
	return g, nil
}
