// Package host runs guests compiled to WebAssembly.
package host

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	abi "github.com/reglet-dev/reglet-guest-sdk/wazero"
)

// Executor owns the wazero runtime shared by all WASM guests.
type Executor struct {
	runtime          wazero.Runtime
	cache            wazero.CompilationCache
	memoryLimitPages uint32
	logger           *slog.Logger
	seq              atomic.Uint64
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	e := &Executor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	// Calls abort when their context ends, so a hung guest cannot outlive a deadline.
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if e.cache != nil {
		cfg = cfg.WithCompilationCache(e.cache)
	}
	if e.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(e.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)
	e.runtime = rt

	if err := e.registerHostFunctions(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}
	return e, nil
}

// registerHostFunctions exposes env.log_message to guests.
func (e *Executor) registerHostFunctions(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(abi.NewLogHandler(e.logger), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export("log_message").
		Instantiate(ctx)
	return err
}

// Close releases resources held by the executor, including every guest module.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// LoadGuest compiles and instantiates a guest module.
func (e *Executor) LoadGuest(ctx context.Context, wasmBytes []byte) (*WasmGuest, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}

	for _, name := range requiredExports {
		if _, ok := compiled.ExportedFunctions()[name]; !ok {
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("module does not export %q", name)
		}
	}

	name := fmt.Sprintf("guest-%d", e.seq.Add(1))
	mod, err := e.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("failed to call _initialize: %w", err)
		}
	}

	e.logger.Debug("wasm guest instantiated", "module", name)
	return &WasmGuest{module: mod, compiled: compiled}, nil
}

// Open loads the module named by manifest.Path, relative to dir.
// It lets an Executor serve as the loader's factory for wasm guests.
func (e *Executor) Open(ctx context.Context, manifest values.Manifest, dir string) (ports.Guest, error) {
	path := manifest.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}
	if pin, ok, err := manifest.ArtifactDigest(); err != nil {
		return nil, err
	} else if ok {
		if err := pin.Verify(bytes.NewReader(wasmBytes)); err != nil {
			return nil, fmt.Errorf("module %s: %w", path, err)
		}
	}
	g, err := e.LoadGuest(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	return g, nil
}
