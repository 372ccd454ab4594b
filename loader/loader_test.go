package loader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/capability"
	"github.com/reglet-dev/reglet-guest-sdk/guest"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	"github.com/reglet-dev/reglet-guest-sdk/loader"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newLoader(t *testing.T, reg *registry.Registry, opts ...loader.Option) *loader.Loader {
	t.Helper()

	natives := loader.NewNativeFactory()
	natives.Add("linux", capability.NewLocal(nil, capability.WithCapabilityFunc("reboot",
		func(context.Context, ports.Target, ...any) (any, error) { return "rebooted", nil })))
	natives.Add("debian", capability.NewLocal(nil))
	natives.Add("ubuntu", capability.NewLocal(nil))

	opts = append([]loader.Option{
		loader.WithFactory(values.RuntimeNative, natives),
		loader.WithLogger(guest.NewTestLogger()),
	}, opts...)
	l, err := loader.New(reg, opts...)
	require.NoError(t, err)
	return l
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "linux/guest.yaml", "name: linux\n")
	write(t, root, "linux/debian/guest.json", `{"name":"debian"}`)
	write(t, root, "other/notes.yaml", "x: 1\n")
	write(t, root, "arch/guest.yml", "name: arch\n")

	paths, err := loader.Discover(root)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(root, "arch", "guest.yml"), paths[0])
	assert.Equal(t, filepath.Join(root, "linux", "debian", "guest.json"), paths[1])
	assert.Equal(t, filepath.Join(root, "linux", "guest.yaml"), paths[2])
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "linux/guest.yaml", "name: linux\nversion: 1.3.0\ncapabilities: [reboot]\n")
	write(t, root, "debian/guest.json", `{"name":"debian","parent":"linux","parentVersion":"^1.2"}`)
	write(t, root, "ubuntu/guest.yaml", "name: ubuntu\nparent: debian\n")

	reg := registry.NewRegistry(registry.WithLogger(guest.NewTestLogger()))
	l := newLoader(t, reg)

	loaded, err := l.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)

	ubuntu, err := reg.Lookup("ubuntu")
	require.NoError(t, err)
	chain, err := reg.Chain(ubuntu)
	require.NoError(t, err)
	assert.Len(t, chain, 3)

	linux, err := reg.Lookup("linux")
	require.NoError(t, err)
	assert.Equal(t, []string{"reboot"}, linux.Manifest().Capabilities)

	require.NoError(t, l.Close())
}

func TestLoader_CollectsFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "linux/guest.yaml", "name: linux\n")
	write(t, root, "broken/guest.yaml", "name: [unterminated\n")
	write(t, root, "invalid/guest.json", `{"name":"bad name"}`)
	write(t, root, "orphan/guest.yaml", "name: ubuntu\nparent: ghost\n")
	write(t, root, "unknown/guest.yaml", "name: plan9\n")
	write(t, root, "wasm/guest.yaml", "name: wasmy\nruntime: wasm\npath: x.wasm\n")

	reg := registry.NewRegistry(registry.WithLogger(guest.NewTestLogger()))
	l := newLoader(t, reg)

	loaded, err := l.Load(context.Background(), root)
	require.Error(t, err)
	assert.Len(t, loaded, 2, "linux and ubuntu load; topology is checked afterwards")

	var invalid *loader.InvalidManifestError
	assert.True(t, errors.As(err, &invalid))
	assert.ErrorIs(t, err, entities.ErrUnknownParent)
	assert.Contains(t, err.Error(), "no native implementation")
	assert.Contains(t, err.Error(), `no factory for runtime "wasm"`)
}

func TestLoader_ManifestSizeLimit(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "linux/guest.yaml", "name: linux\ndescription: "+strings.Repeat("x", 200)+"\n")

	reg := registry.NewRegistry(registry.WithLogger(guest.NewTestLogger()))
	l := newLoader(t, reg, loader.WithMaxManifestBytes(64))

	_, err := l.LoadFile(context.Background(), filepath.Join(root, "linux", "guest.yaml"))
	var tooLarge *loader.ManifestTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(64), tooLarge.Limit)
	assert.Contains(t, err.Error(), "64 bytes")
}

// describingGuest reports its own manifest, the way remote guests do.
type describingGuest struct {
	*capability.Local
	manifest values.Manifest
	closed   bool
}

func (d *describingGuest) Manifest(context.Context) (values.Manifest, error) {
	return d.manifest, nil
}

func (d *describingGuest) Close() error {
	d.closed = true
	return nil
}

func TestLoader_SelfDescribingGuest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "base/guest.yaml", "name: base\n")
	write(t, root, "remote/guest.yaml", "name: remote\nruntime: rpc\npath: remote-guest\n")
	write(t, root, "liar/guest.yaml", "name: liar\nruntime: rpc\npath: liar-guest\n")

	remote := &describingGuest{Local: capability.NewLocal(nil), manifest: values.Manifest{Name: "remote", Parent: "base", Version: "0.2.0"}}
	liar := &describingGuest{Local: capability.NewLocal(nil), manifest: values.Manifest{Name: "someone-else"}}

	rpcFactory := loader.FactoryFunc(func(_ context.Context, m values.Manifest, dir string) (ports.Guest, error) {
		assert.Equal(t, filepath.Join(root, m.Name), dir)
		if m.Name == "remote" {
			return remote, nil
		}
		return liar, nil
	})

	natives := loader.NewNativeFactory()
	natives.Add("base", capability.NewLocal(nil))

	reg := registry.NewRegistry(registry.WithLogger(guest.NewTestLogger()))
	l, err := loader.New(reg,
		loader.WithFactory(values.RuntimeNative, natives),
		loader.WithFactory(values.RuntimeRPC, rpcFactory),
		loader.WithLogger(guest.NewTestLogger()),
	)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `reports itself as "someone-else"`)
	assert.True(t, liar.closed, "rejected handles are released")

	d, err := reg.Lookup("remote")
	require.NoError(t, err)
	assert.Equal(t, "base", d.ParentName())
	assert.Equal(t, "0.2.0", d.Manifest().Version)

	require.NoError(t, l.Close())
	assert.True(t, remote.closed)
}

type stalledGuest struct {
	*capability.Local
	release chan struct{}
	panics  bool
	closed  bool
}

func (s *stalledGuest) Manifest(context.Context) (values.Manifest, error) {
	if s.panics {
		panic("describe exploded")
	}
	<-s.release
	return values.Manifest{Name: "stalled"}, nil
}

func (s *stalledGuest) Close() error {
	s.closed = true
	return nil
}

func TestLoader_DescribeGoesThroughBridge(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	write(t, root, "stalled/guest.yaml", "name: stalled\nruntime: rpc\npath: stalled-guest\n")

	tests := []struct {
		name   string
		panics bool
		target error
	}{
		{"hang is bounded", false, entities.ErrTimeout},
		{"panic is recovered", true, entities.ErrInvocationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &stalledGuest{Local: capability.NewLocal(nil), release: make(chan struct{}), panics: tt.panics}
			t.Cleanup(func() { close(g.release) })

			reg := registry.NewRegistry(registry.WithLogger(guest.NewTestLogger()))
			l := newLoader(t, reg,
				loader.WithFactory(values.RuntimeRPC, loader.FactoryFunc(
					func(context.Context, values.Manifest, string) (ports.Guest, error) { return g, nil })),
				loader.WithBridge(bridge.New(bridge.WithTimeout(20*time.Millisecond), bridge.WithLogger(guest.NewTestLogger()))),
			)

			_, err := l.LoadFile(context.Background(), filepath.Join(root, "stalled", "guest.yaml"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, g.closed)
			assert.Equal(t, 0, reg.Len())
		})
	}
}
