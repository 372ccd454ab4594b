package rpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Launcher starts guest binaries and keeps track of their processes.
type Launcher struct {
	mu      sync.Mutex
	clients []*plugin.Client

	pluginLogger hclog.Logger
	logger       *slog.Logger
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithPluginOutput routes guest process logs to w at the given level.
func WithPluginOutput(w io.Writer, level hclog.Level) LauncherOption {
	return func(l *Launcher) {
		l.pluginLogger = NewPluginLogger(w, level)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLauncher creates a Launcher.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.pluginLogger == nil {
		l.pluginLogger = NewPluginLogger(nil, hclog.Error)
	}
	return l
}

// Open starts the binary named by manifest.Path and returns its guest handle.
// It satisfies the loader's factory contract for rpc guests. The handshake is
// bounded by ctx; the started process outlives ctx.
func (l *Launcher) Open(ctx context.Context, manifest values.Manifest, dir string) (ports.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("guest %q: %w", manifest.Name, err)
	}

	path := manifest.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	cfg := &plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap(nil, manifest),
		Cmd:              exec.Command(path),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           l.pluginLogger.Named(manifest.Name),
	}
	pin, ok, err := manifest.ArtifactDigest()
	if err != nil {
		return nil, err
	}
	if ok {
		// go-plugin refuses to start a binary whose checksum differs.
		cfg.SecureConfig = &plugin.SecureConfig{Checksum: pin.Sum(), Hash: pin.NewHash()}
	}

	if deadline, ok := ctx.Deadline(); ok {
		cfg.StartTimeout = time.Until(deadline)
	}

	client := plugin.NewClient(cfg)

	rpcClient, err := connect(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to guest %q: %w", manifest.Name, err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense guest %q: %w", manifest.Name, err)
	}

	g, ok := raw.(*RemoteGuest)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("guest %q: unexpected plugin type %T", manifest.Name, raw)
	}
	g.kill = client.Kill

	l.mu.Lock()
	l.clients = append(l.clients, client)
	l.mu.Unlock()

	l.logger.Debug("guest process started", "guest", manifest.Name, "path", path)
	return g, nil
}

// connect performs the handshake. go-plugin holds the client lock until the
// handshake ends, so an abandoned start is killed once it gives up.
func connect(ctx context.Context, client *plugin.Client) (plugin.ClientProtocol, error) {
	type result struct {
		proto plugin.ClientProtocol
		err   error
	}
	done := make(chan result, 1)
	go func() {
		proto, err := client.Client()
		done <- result{proto, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			client.Kill()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, r.err
		}
		return r.proto, nil
	case <-ctx.Done():
		go func() {
			<-done
			client.Kill()
		}()
		return nil, ctx.Err()
	}
}

// Shutdown kills every guest process the launcher started.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	clients := l.clients
	l.clients = nil
	l.mu.Unlock()

	for _, c := range clients {
		c.Kill()
	}
}
