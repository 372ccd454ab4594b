package rpc_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guestlib "github.com/reglet-dev/reglet-guest-sdk"
	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/capability"
	"github.com/reglet-dev/reglet-guest-sdk/guest"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/rpc"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

var ubuntuManifest = values.Manifest{
	Name:    "ubuntu",
	Parent:  "linux",
	Version: "24.4.0",
	Runtime: values.RuntimeRPC,
}

func ubuntuGuest() *capability.Local {
	return capability.NewLocal(
		func(ctx context.Context, t ports.Target) (bool, error) {
			switch t.Facts()["os"] {
			case "ubuntu":
				return true, nil
			case "hang":
				<-ctx.Done()
				return false, ctx.Err()
			case "broken":
				return false, errors.New("cannot read /etc/os-release")
			}
			return false, nil
		},
		capability.WithCapabilityFunc("install", func(_ context.Context, t ports.Target, args ...any) (any, error) {
			if len(args) == 0 {
				return nil, errors.New("package name required")
			}
			return fmt.Sprintf("apt-get install %v on %s", args[0], t.ID()), nil
		}),
		capability.WithCapabilityFunc("packages", func(context.Context, ports.Target, ...any) (any, error) {
			return map[string]any{"nginx": "1.24", "count": 2}, nil
		}),
	)
}

// dispense connects a RemoteGuest to an in-process RPC server.
func dispense(t *testing.T) (*rpc.RemoteGuest, *plugin.RPCClient) {
	t.Helper()

	client, _ := plugin.TestPluginRPCConn(t, rpc.PluginMap(ubuntuGuest(), ubuntuManifest), nil)
	t.Cleanup(func() { _ = client.Close() })

	raw, err := client.Dispense(rpc.PluginName)
	require.NoError(t, err)
	g, ok := raw.(*rpc.RemoteGuest)
	require.True(t, ok)
	return g, client
}

func TestRemoteGuest_RoundTrip(t *testing.T) {
	ctx := context.Background()
	g, _ := dispense(t)
	target := values.NewTarget("web-1", map[string]string{"os": "ubuntu"})

	m, err := g.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ubuntuManifest, m)

	matched, err := g.Detect(ctx, target)
	require.NoError(t, err)
	assert.True(t, matched)

	has, err := g.HasCapability(ctx, values.MustNewCapabilityName("install"))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = g.HasCapability(ctx, values.MustNewCapabilityName("reboot"))
	require.NoError(t, err)
	assert.False(t, has)

	inv, err := g.Capability(ctx, values.MustNewCapabilityName("install"))
	require.NoError(t, err)
	out, err := inv.Invoke(ctx, target, "nginx")
	require.NoError(t, err)
	assert.Equal(t, "apt-get install nginx on web-1", out)

	inv, err = g.Capability(ctx, values.MustNewCapabilityName("packages"))
	require.NoError(t, err)
	out, err = inv.Invoke(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"nginx": "1.24", "count": uint64(2)}, out)
}

func TestRemoteGuest_ErrorClassification(t *testing.T) {
	ctx := context.Background()
	g, client := dispense(t)
	b := bridge.New(bridge.WithLogger(guest.NewTestLogger()))
	d := entities.MustDefine("ubuntu", "linux", g)

	t.Run("guest error is an invocation failure", func(t *testing.T) {
		_, err := b.Detect(ctx, d, values.NewTarget("web-1", map[string]string{"os": "broken"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrInvocationFailed)
		assert.Contains(t, err.Error(), "/etc/os-release")
	})

	t.Run("undeclared capability is an invocation failure", func(t *testing.T) {
		_, err := b.Capability(ctx, d, values.MustNewCapabilityName("reboot"))
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrInvocationFailed)
	})

	t.Run("unencodable argument is a transport error", func(t *testing.T) {
		inv, err := b.Capability(ctx, d, values.MustNewCapabilityName("install"))
		require.NoError(t, err)
		res := &entities.Resolution{Owner: d, Invocable: inv, Capability: values.MustNewCapabilityName("install")}

		_, err = b.Invoke(ctx, res, values.NewTarget("web-1", nil), make(chan int))
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrTransport)
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		_, err := b.Detect(tctx, d, values.NewTarget("web-1", map[string]string{"os": "hang"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrTimeout)
	})

	t.Run("closed connection is a transport error", func(t *testing.T) {
		_ = client.Close()

		_, err := b.Detect(ctx, d, values.NewTarget("web-1", map[string]string{"os": "ubuntu"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, entities.ErrTransport)
	})
}

func TestRemoteGuest_InheritsAcrossBoundary(t *testing.T) {
	ctx := context.Background()
	g, _ := dispense(t)

	rt := guestlib.New(guestlib.WithLogger(guest.NewTestLogger()))
	linux := capability.NewLocal(
		func(_ context.Context, t ports.Target) (bool, error) { return t.Facts()["kernel"] == "linux", nil },
		capability.WithCapabilityFunc("reboot", func(_ context.Context, t ports.Target, _ ...any) (any, error) {
			return "rebooting " + t.ID(), nil
		}),
	)
	require.NoError(t, rt.Register(entities.MustDefine("linux", "", linux)))
	require.NoError(t, rt.Register(entities.MustDefine("ubuntu", "linux", g)))
	require.NoError(t, rt.Verify())

	target := values.NewTarget("web-1", map[string]string{"kernel": "linux", "os": "ubuntu"})

	d, err := rt.DetectGuest(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", d.ID())

	res, err := rt.Resolve(ctx, "ubuntu", "reboot")
	require.NoError(t, err)
	assert.Equal(t, "linux", res.OwnerID())
	assert.Equal(t, []string{"ubuntu", "linux"}, res.Chain)

	out, err := rt.Capability(ctx, target, "reboot")
	require.NoError(t, err)
	assert.Equal(t, "rebooting web-1", out)

	out, err = rt.Capability(ctx, target, "install", "nginx")
	require.NoError(t, err)
	assert.Equal(t, "apt-get install nginx on web-1", out)
}
