// Package loader discovers guest manifests on disk, opens the guests they
// describe and registers them.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	"github.com/reglet-dev/reglet-guest-sdk/parser"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
	"github.com/reglet-dev/reglet-guest-sdk/validation"
)

// ManifestPattern matches guest manifest files below a guest directory.
const ManifestPattern = "**/guest.{yaml,yml,json}"

const defaultMaxManifestBytes = 1 << 20

// defaultDescribeTimeout bounds a guest's self-description when no bridge is supplied.
const defaultDescribeTimeout = 30 * time.Second

// InvalidManifestError lists validation problems of one manifest file.
type InvalidManifestError struct {
	Path     string
	Problems []string
}

func (e *InvalidManifestError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Problems)
}

// Loader turns manifest files into registered guests.
type Loader struct {
	registry  registry.GuestRegistry
	validator validation.ManifestValidator
	bridge    *bridge.Bridge
	factories map[values.RuntimeKind]Factory
	maxBytes  int64
	logger    *slog.Logger
	closers   []io.Closer
}

// Option configures a Loader.
type Option func(*Loader)

// WithFactory sets the factory used for guests of the given runtime kind.
func WithFactory(kind values.RuntimeKind, f Factory) Option {
	return func(l *Loader) {
		l.factories[kind] = f
	}
}

// WithValidator replaces the default schema validator.
func WithValidator(v validation.ManifestValidator) Option {
	return func(l *Loader) {
		l.validator = v
	}
}

// WithBridge sets the bridge used to ask guests for their own manifest.
func WithBridge(b *bridge.Bridge) Option {
	return func(l *Loader) {
		l.bridge = b
	}
}

// WithMaxManifestBytes caps manifest file size.
func WithMaxManifestBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loader that registers into reg.
func New(reg registry.GuestRegistry, opts ...Option) (*Loader, error) {
	l := &Loader{
		registry:  reg,
		factories: make(map[values.RuntimeKind]Factory),
		maxBytes:  defaultMaxManifestBytes,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.validator == nil {
		v, err := validation.NewManifestValidator()
		if err != nil {
			return nil, err
		}
		l.validator = v
	}
	if l.bridge == nil {
		l.bridge = bridge.New(bridge.WithTimeout(defaultDescribeTimeout), bridge.WithLogger(l.logger))
	}
	return l, nil
}

// Discover returns the manifest paths below dir, sorted.
func Discover(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), ManifestPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", dir, err)
	}
	sort.Strings(matches)

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return paths, nil
}

// Load loads every guest found below dirs, then verifies the registry
// topology. Per-file failures are collected; loading continues past them.
func (l *Loader) Load(ctx context.Context, dirs ...string) ([]*entities.Descriptor, error) {
	var (
		loaded []*entities.Descriptor
		errs   []error
	)

	for _, dir := range dirs {
		paths, err := Discover(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, path := range paths {
			d, err := l.LoadFile(ctx, path)
			if err != nil {
				l.logger.Warn("skipping guest", "path", path, "error", err)
				errs = append(errs, err)
				continue
			}
			loaded = append(loaded, d)
		}
	}

	if err := l.registry.Verify(); err != nil {
		errs = append(errs, err)
	}

	l.logger.Info("guests loaded", "count", len(loaded), "errors", len(errs))
	return loaded, errors.Join(errs...)
}

// LoadFile loads and registers the guest described by one manifest file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*entities.Descriptor, error) {
	manifest, err := l.readManifest(path)
	if err != nil {
		return nil, err
	}

	factory, ok := l.factories[manifest.Kind()]
	if !ok {
		return nil, fmt.Errorf("guest %q: no factory for runtime %q", manifest.Name, manifest.Kind())
	}

	g, err := factory.Open(ctx, *manifest, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("guest %q: failed to open: %w", manifest.Name, err)
	}

	d, err := l.describe(ctx, path, manifest, g)
	if err != nil {
		if c, ok := g.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	if c, ok := g.(io.Closer); ok {
		l.closers = append(l.closers, c)
	}

	l.logger.Debug("guest loaded", "guest", d.ID(), "parent", d.ParentName(), "runtime", manifest.Kind(), "path", path)
	return d, nil
}

func (l *Loader) describe(ctx context.Context, path string, manifest *values.Manifest, g ports.Guest) (*entities.Descriptor, error) {
	if err := l.reconcile(ctx, manifest, g); err != nil {
		return nil, err
	}

	d, err := entities.NewDescriptor(*manifest, g)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := l.registry.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases every guest handle opened by the loader.
func (l *Loader) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

func (l *Loader) readManifest(path string) (*values.Manifest, error) {
	p, err := parser.ForPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := readLimited(f, path, l.maxBytes)
	if err != nil {
		return nil, err
	}

	manifest, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	res, err := l.validator.Validate(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to validate manifest %s: %w", path, err)
	}
	if !res.Valid {
		return nil, &InvalidManifestError{Path: path, Problems: res.Errors}
	}
	return manifest, nil
}

// reconcile checks a self-describing guest against its manifest file.
// The file may omit the parent; the guest's own answer fills it in.
func (l *Loader) reconcile(ctx context.Context, manifest *values.Manifest, g ports.Guest) error {
	describer, ok := g.(ports.Describer)
	if !ok {
		return nil
	}

	reported, err := l.bridge.Describe(ctx, manifest.Name, describer)
	if err != nil {
		return fmt.Errorf("guest %q: failed to describe: %w", manifest.Name, err)
	}
	if reported.Name != manifest.Name {
		return fmt.Errorf("guest %q reports itself as %q", manifest.Name, reported.Name)
	}
	if manifest.Parent == "" {
		manifest.Parent = reported.Parent
	} else if reported.Parent != "" && reported.Parent != manifest.Parent {
		return fmt.Errorf("guest %q: manifest parent %q, guest reports %q", manifest.Name, manifest.Parent, reported.Parent)
	}
	if manifest.Version == "" {
		manifest.Version = reported.Version
	}
	if len(manifest.Capabilities) == 0 {
		manifest.Capabilities = reported.Capabilities
	}
	return nil
}
