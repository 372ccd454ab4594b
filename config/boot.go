package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	guestlib "github.com/reglet-dev/reglet-guest-sdk"
	"github.com/reglet-dev/reglet-guest-sdk/guest/rpc"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	"github.com/reglet-dev/reglet-guest-sdk/host"
	"github.com/reglet-dev/reglet-guest-sdk/loader"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
)

// Host is a runtime built from configuration, together with the owners of
// guest modules and processes.
type Host struct {
	Runtime *guestlib.Runtime
	Loader  *loader.Loader

	executor *host.Executor
	launcher *rpc.Launcher
}

// Boot builds the runtime described by c and loads every guest below
// GuestDirs. natives serves in-process guests and may be nil.
//
// Per-guest load problems do not stop the boot: a usable Host is returned
// together with the joined load errors. Any other failure returns a nil Host.
func (c *HostConfig) Boot(ctx context.Context, natives *loader.NativeFactory, logger *slog.Logger, opts ...guestlib.Option) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if natives == nil {
		natives = loader.NewNativeFactory()
	}

	reg := registry.NewRegistry(registry.WithStrictVersions(c.StrictVersions), registry.WithLogger(logger))
	rtOpts := append(c.RuntimeOptions(logger), guestlib.WithRegistry(reg))
	rt := guestlib.New(append(rtOpts, opts...)...)

	executor, err := host.NewExecutor(ctx, host.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to start wasm runtime: %w", err)
	}
	launcher := rpc.NewLauncher(rpc.WithLogger(logger), rpc.WithPluginOutput(os.Stderr, c.pluginLevel()))

	ld, err := loader.New(reg,
		loader.WithFactory(values.RuntimeNative, natives),
		loader.WithFactory(values.RuntimeWASM, executor),
		loader.WithFactory(values.RuntimeRPC, launcher),
		loader.WithBridge(rt.Bridge()),
		loader.WithMaxManifestBytes(c.MaxManifestBytes),
		loader.WithLogger(logger),
	)
	if err != nil {
		launcher.Shutdown()
		_ = executor.Close(ctx)
		return nil, err
	}

	h := &Host{Runtime: rt, Loader: ld, executor: executor, launcher: launcher}
	_, loadErr := ld.Load(ctx, c.GuestDirs...)
	return h, loadErr
}

// Close releases every guest handle, then the processes and the wasm runtime.
func (h *Host) Close(ctx context.Context) error {
	err := h.Loader.Close()
	h.launcher.Shutdown()
	return errors.Join(err, h.executor.Close(ctx))
}

func (c *HostConfig) pluginLevel() hclog.Level {
	level := hclog.LevelFromString(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if level == hclog.NoLevel {
		return hclog.Info
	}
	return level
}
