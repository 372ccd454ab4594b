package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/guest"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/services"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	"github.com/reglet-dev/reglet-guest-sdk/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var target = values.NewTarget("host-1", map[string]string{"os": "linux"})

type fixture struct {
	reg      *registry.Registry
	bridge   *bridge.Bridge
	detector *services.DetectionEngine
	resolver *services.CapabilityResolver
	mocks    map[string]*guest.MockGuest
}

func newFixture() *fixture {
	logger := guest.NewTestLogger()
	reg := registry.NewRegistry(registry.WithLogger(logger))
	b := bridge.New(bridge.WithLogger(logger))
	return &fixture{
		reg:      reg,
		bridge:   b,
		detector: services.NewDetectionEngine(reg, b, services.WithDetectionLogger(logger)),
		resolver: services.NewCapabilityResolver(reg, b, services.WithResolverLogger(logger)),
		mocks:    make(map[string]*guest.MockGuest),
	}
}

func (f *fixture) add(t require.TestingT, name, parent string, g *guest.MockGuest) *entities.Descriptor {
	d := entities.MustDefine(name, parent, g)
	require.NoError(t, f.reg.Register(d))
	f.mocks[name] = g
	return d
}

func capName(s string) values.CapabilityName {
	return values.MustNewCapabilityName(s)
}

// Scenario A: a capability declared only by the parent is owned by the parent.
func TestResolve_InheritsFromParent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "base", "", guest.NewMockGuest(false, "write_hello"))
	child := f.add(t, "child", "base", guest.NewMockGuest(true))

	res, err := f.resolver.Resolve(context.Background(), child, capName("write_hello"))
	require.NoError(t, err)
	assert.Equal(t, "base", res.OwnerID())
	assert.Equal(t, []string{"child", "base"}, res.Chain)
	assert.True(t, res.Inherited())

	out, err := f.bridge.Invoke(context.Background(), res, target)
	require.NoError(t, err)
	assert.Equal(t, "write_hello", out)
}

func TestResolve_ChildOverridesParent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "base", "", guest.NewMockGuest(false, "write_hello"))
	child := f.add(t, "child", "base", guest.NewMockGuest(true, "write_hello"))

	res, err := f.resolver.Resolve(context.Background(), child, capName("write_hello"))
	require.NoError(t, err)
	assert.Equal(t, "child", res.OwnerID())
	assert.False(t, res.Inherited())
	assert.Equal(t, 0, f.mocks["base"].HasCapabilityCalls())
}

// Scenario B: a dangling parent link.
func TestResolve_UnknownParent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	child := f.add(t, "child", "ghost", guest.NewMockGuest(true))

	_, err := f.resolver.Resolve(context.Background(), child, capName("anything"))
	var unknown *entities.UnknownParentError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "child", unknown.Guest)
	assert.Equal(t, "ghost", unknown.Parent)
}

// Scenario C: a two-guest cycle.
func TestResolve_Cycle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	a := f.add(t, "a", "b", guest.NewMockGuest(false))
	f.add(t, "b", "a", guest.NewMockGuest(false))

	_, err := f.resolver.Resolve(context.Background(), a, capName("x"))
	var cycle *entities.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Chain)
	assert.Equal(t, 1, f.mocks["a"].HasCapabilityCalls())
	assert.Equal(t, 1, f.mocks["b"].HasCapabilityCalls())
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(false))
	ubuntu := f.add(t, "ubuntu", "linux", guest.NewMockGuest(true))

	_, err := f.resolver.Resolve(context.Background(), ubuntu, capName("x"))
	var nf *entities.CapabilityNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"ubuntu", "linux"}, nf.Chain)
	assert.Equal(t, "ubuntu", nf.Guest)
}

func TestResolve_GuestErrors(t *testing.T) {
	t.Parallel()

	t.Run("has capability failure is classified", func(t *testing.T) {
		f := newFixture()
		g := guest.NewMockGuest(false)
		g.HasErr = entities.NewTransportError("", "has_capability", errors.New("pipe closed"))
		d := f.add(t, "remote", "", g)

		_, err := f.resolver.Resolve(context.Background(), d, capName("x"))
		assert.Equal(t, entities.KindTransport, entities.Kind(err))
	})

	t.Run("declared but unobtainable is an invocation failure", func(t *testing.T) {
		f := newFixture()
		g := guest.NewMockGuest(false, "x")
		g.CapErr = errors.New("lazy load failed")
		d := f.add(t, "linux", "", g)

		_, err := f.resolver.Resolve(context.Background(), d, capName("x"))
		assert.ErrorIs(t, err, entities.ErrInvocationFailed)
		assert.NotErrorIs(t, err, entities.ErrCapabilityNotFound)
	})

	t.Run("declared but reported missing is not a not-found", func(t *testing.T) {
		f := newFixture()
		g := guest.NewMockGuest(false, "x")
		g.CapErr = fmt.Errorf("lazy load: %w", entities.ErrCapabilityNotFound)
		d := f.add(t, "linux", "", g)

		_, err := f.resolver.Resolve(context.Background(), d, capName("x"))
		assert.Equal(t, entities.KindInvocationFailed, entities.Kind(err))

		got, err := f.resolver.Capabilities(context.Background(), d, capName("x"))
		assert.Nil(t, got)
		assert.Equal(t, entities.KindInvocationFailed, entities.Kind(err))
	})
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(false, "reboot"))
	f.add(t, "debian", "linux", guest.NewMockGuest(false, "install"))
	ubuntu := f.add(t, "ubuntu", "debian", guest.NewMockGuest(true))

	first, err1 := f.resolver.Resolve(context.Background(), ubuntu, capName("reboot"))
	second, err2 := f.resolver.Resolve(context.Background(), ubuntu, capName("reboot"))
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Same(t, first.Owner, second.Owner)
	assert.Equal(t, first.Chain, second.Chain)
	assert.Equal(t, first.Capability, second.Capability)
}

func TestResolveByID(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(false, "reboot"))

	res, err := f.resolver.ResolveByID(context.Background(), "linux", capName("reboot"))
	require.NoError(t, err)
	assert.Equal(t, "linux", res.OwnerID())

	_, err = f.resolver.ResolveByID(context.Background(), "nope", capName("reboot"))
	assert.ErrorIs(t, err, entities.ErrGuestNotFound)
}

func TestCapabilities_SharesTables(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(false, "reboot", "halt"))
	ubuntu := f.add(t, "ubuntu", "linux", guest.NewMockGuest(true, "apt"))

	got, err := f.resolver.Capabilities(context.Background(), ubuntu,
		capName("apt"), capName("reboot"), capName("halt"), capName("yum"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "ubuntu", got["apt"].OwnerID())
	assert.Equal(t, "linux", got["reboot"].OwnerID())
	assert.NotContains(t, got, "yum")

	// one lookup per guest per name, no repeats
	assert.Equal(t, 4, f.mocks["ubuntu"].HasCapabilityCalls())
	assert.Equal(t, 3, f.mocks["linux"].HasCapabilityCalls())
}

func TestDetectGuest_MostSpecificWins(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(true))
	f.add(t, "debian", "linux", guest.NewMockGuest(true))
	f.add(t, "ubuntu", "debian", guest.NewMockGuest(true))
	f.add(t, "redhat", "linux", guest.NewMockGuest(false))

	d, err := f.detector.DetectGuest(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", d.ID())
}

func TestDetectGuest_ParentOnly(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(true))
	f.add(t, "debian", "linux", guest.NewMockGuest(false))

	d, err := f.detector.DetectGuest(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "linux", d.ID())
}

func TestDetectGuest_Ambiguous(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(true))
	f.add(t, "redhat", "linux", guest.NewMockGuest(true))
	f.add(t, "bsd", "", guest.NewMockGuest(false))
	f.add(t, "debian", "linux", guest.NewMockGuest(true))

	_, err := f.detector.DetectGuest(context.Background(), target)
	var amb *entities.AmbiguousMatchError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, []string{"redhat", "debian"}, amb.Candidates)
	assert.Equal(t, "host-1", amb.Target)
}

func TestDetectGuest_NoMatch(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(false))

	_, err := f.detector.DetectGuest(context.Background(), target)
	assert.ErrorIs(t, err, entities.ErrNoMatch)

	empty := newFixture()
	_, err = empty.detector.DetectGuest(context.Background(), target)
	assert.ErrorIs(t, err, entities.ErrNoMatch)
}

func TestDetectGuest_ShortCircuitsOnError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "a", "", guest.NewMockGuest(true))
	failing := guest.NewMockGuest(true)
	cause := errors.New("ssh: connection refused")
	failing.DetectErr = cause
	f.add(t, "b", "", failing)
	f.add(t, "c", "", guest.NewMockGuest(true))

	_, err := f.detector.DetectGuest(context.Background(), target)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, entities.ErrInvocationFailed)

	assert.Equal(t, 1, f.mocks["a"].DetectCalls())
	assert.Equal(t, 1, f.mocks["b"].DetectCalls())
	assert.Equal(t, 0, f.mocks["c"].DetectCalls())
}

func TestDetectGuest_BrokenTopologyFailsBeforeDetect(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.add(t, "linux", "", guest.NewMockGuest(true))
	f.add(t, "orphan", "ghost", guest.NewMockGuest(true))

	_, err := f.detector.DetectGuest(context.Background(), target)
	assert.ErrorIs(t, err, entities.ErrUnknownParent)
	assert.Equal(t, 0, f.mocks["linux"].DetectCalls())
}

// Random parent forests, some with cycles: the walk always terminates,
// asks each guest at most once and agrees with a direct chain walk.
func TestResolve_Property_Terminates(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "guests")
		f := newFixture()
		parents := make([]int, n)
		owns := make([]bool, n)

		for i := range n {
			parents[i] = rapid.IntRange(-1, n-1).Draw(rt, fmt.Sprintf("parent%d", i))
			owns[i] = rapid.Bool().Draw(rt, fmt.Sprintf("owns%d", i))
		}
		for i := range n {
			parent := ""
			if parents[i] >= 0 {
				parent = fmt.Sprintf("g%d", parents[i])
			}
			var caps []string
			if owns[i] {
				caps = []string{"x"}
			}
			f.add(rt, fmt.Sprintf("g%d", i), parent, guest.NewMockGuest(false, caps...))
		}

		start := rapid.IntRange(0, n-1).Draw(rt, "start")
		d, err := f.reg.Lookup(fmt.Sprintf("g%d", start))
		require.NoError(rt, err)

		res, err := f.resolver.Resolve(context.Background(), d, capName("x"))

		// oracle
		wantOwner, wantCycle := -1, false
		seen := map[int]bool{}
		for cur := start; cur >= 0; cur = parents[cur] {
			if seen[cur] {
				wantCycle = true
				break
			}
			seen[cur] = true
			if owns[cur] {
				wantOwner = cur
				break
			}
		}

		switch {
		case wantOwner >= 0:
			require.NoError(rt, err)
			assert.Equal(rt, fmt.Sprintf("g%d", wantOwner), res.OwnerID())
			assertUnique(rt, res.Chain)
		case wantCycle:
			var cycle *entities.CycleError
			require.ErrorAs(rt, err, &cycle)
			assert.LessOrEqual(rt, len(cycle.Chain), n+1)
			assertUnique(rt, cycle.Chain[:len(cycle.Chain)-1])
		default:
			assert.ErrorIs(rt, err, entities.ErrCapabilityNotFound)
		}

		for name, m := range f.mocks {
			assert.LessOrEqual(rt, m.HasCapabilityCalls(), 1, name)
		}
	})
}

func TestResolve_Property_Idempotent(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "guests")
		f := newFixture()
		for i := range n {
			parent := ""
			// parents always point at earlier guests, so the forest is acyclic
			if i > 0 && rapid.Bool().Draw(rt, fmt.Sprintf("hasParent%d", i)) {
				parent = fmt.Sprintf("g%d", rapid.IntRange(0, i-1).Draw(rt, fmt.Sprintf("parent%d", i)))
			}
			var caps []string
			if rapid.Bool().Draw(rt, fmt.Sprintf("owns%d", i)) {
				caps = []string{"x"}
			}
			f.add(rt, fmt.Sprintf("g%d", i), parent, guest.NewMockGuest(false, caps...))
		}

		d, err := f.reg.Lookup(fmt.Sprintf("g%d", rapid.IntRange(0, n-1).Draw(rt, "start")))
		require.NoError(rt, err)

		r1, err1 := f.resolver.Resolve(context.Background(), d, capName("x"))
		r2, err2 := f.resolver.Resolve(context.Background(), d, capName("x"))

		assert.Equal(rt, entities.Kind(err1), entities.Kind(err2))
		if err1 == nil {
			assert.Same(rt, r1.Owner, r2.Owner)
			assert.Equal(rt, r1.Chain, r2.Chain)
		} else {
			assert.Equal(rt, err1.Error(), err2.Error())
		}
	})
}

func assertUnique(t require.TestingT, ids []string) {
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "guest %s visited twice", id)
		seen[id] = true
	}
}
