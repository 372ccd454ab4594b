package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"sync"
	"time"

	"github.com/hashicorp/go-plugin"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// GuestPlugin implements plugin.Plugin for guests.
type GuestPlugin struct {
	Impl     ports.Guest
	Manifest values.Manifest
}

// Server returns the RPC server wrapping Impl. Called in the guest process.
func (p *GuestPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("guest plugin has no implementation")
	}
	return &RPCServer{impl: p.Impl, manifest: p.Manifest}, nil
}

// Client returns a RemoteGuest. Called in the host process.
func (p *GuestPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RemoteGuest{client: c, name: p.Manifest.Name}, nil
}

// RPCServer exposes a guest over net/rpc. Errors produced by the guest
// travel in the reply; a returned error means the call itself was unusable.
type RPCServer struct {
	impl     ports.Guest
	manifest values.Manifest

	mu   sync.Mutex
	caps map[string]ports.Invocable
}

// Describe returns the guest manifest.
func (s *RPCServer) Describe(_ interface{}, reply *values.Manifest) error {
	if d, ok := s.impl.(ports.Describer); ok {
		m, err := d.Manifest(context.Background())
		if err != nil {
			return err
		}
		*reply = m
		return nil
	}
	*reply = s.manifest
	return nil
}

// Detect forwards to the guest.
func (s *RPCServer) Detect(args DetectArgs, reply *BoolReply) error {
	ctx, cancel := withDeadline(args.Deadline)
	defer cancel()

	ok, err := s.impl.Detect(ctx, args.Target.target())
	reply.Value, reply.Error = ok, errString(err)
	return nil
}

// HasCapability forwards to the guest.
func (s *RPCServer) HasCapability(args CapabilityArgs, reply *BoolReply) error {
	name, err := values.NewCapabilityName(args.Name)
	if err != nil {
		return err
	}
	ctx, cancel := withDeadline(args.Deadline)
	defer cancel()

	ok, err := s.impl.HasCapability(ctx, name)
	reply.Value, reply.Error = ok, errString(err)
	return nil
}

// Capability fetches an implementation and keeps it for later Invoke calls.
func (s *RPCServer) Capability(args CapabilityArgs, reply *ErrorReply) error {
	name, err := values.NewCapabilityName(args.Name)
	if err != nil {
		return err
	}
	ctx, cancel := withDeadline(args.Deadline)
	defer cancel()

	_, err = s.capability(ctx, name)
	reply.Error = errString(err)
	return nil
}

// Invoke runs a capability with CBOR-encoded arguments.
func (s *RPCServer) Invoke(args InvokeArgs, reply *InvokeReply) error {
	name, err := values.NewCapabilityName(args.Capability)
	if err != nil {
		return err
	}
	decoded, err := wire.decodeArgs(args.Args)
	if err != nil {
		return err
	}
	ctx, cancel := withDeadline(args.Deadline)
	defer cancel()

	inv, err := s.capability(ctx, name)
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	out, err := inv.Invoke(ctx, args.Target.target(), decoded...)
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Result, err = wire.encodeResult(out)
	return err
}

func (s *RPCServer) capability(ctx context.Context, name values.CapabilityName) (ports.Invocable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv, ok := s.caps[name.String()]; ok {
		return inv, nil
	}
	inv, err := s.impl.Capability(ctx, name)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("guest returned no implementation for %q", name)
	}
	if s.caps == nil {
		s.caps = make(map[string]ports.Invocable)
	}
	s.caps[name.String()] = inv
	return inv, nil
}

// RemoteGuest is the host-side handle of a guest in another process.
type RemoteGuest struct {
	client *rpc.Client
	name   string
	kill   func()
}

var (
	_ ports.Guest     = (*RemoteGuest)(nil)
	_ ports.Describer = (*RemoteGuest)(nil)
)

// Manifest implements ports.Describer.
func (g *RemoteGuest) Manifest(ctx context.Context) (values.Manifest, error) {
	var m values.Manifest
	if err := g.call(ctx, "describe", "Plugin.Describe", new(interface{}), &m); err != nil {
		return values.Manifest{}, err
	}
	if g.name == "" {
		g.name = m.Name
	}
	return m, nil
}

// Detect implements ports.Guest.
func (g *RemoteGuest) Detect(ctx context.Context, target ports.Target) (bool, error) {
	var reply BoolReply
	args := DetectArgs{Target: toPayload(target), Deadline: deadlineOf(ctx)}
	if err := g.call(ctx, "detect", "Plugin.Detect", args, &reply); err != nil {
		return false, err
	}
	if reply.Error != "" {
		return false, errors.New(reply.Error)
	}
	return reply.Value, nil
}

// HasCapability implements ports.Guest.
func (g *RemoteGuest) HasCapability(ctx context.Context, name values.CapabilityName) (bool, error) {
	var reply BoolReply
	args := CapabilityArgs{Name: name.String(), Deadline: deadlineOf(ctx)}
	if err := g.call(ctx, "has_capability", "Plugin.HasCapability", args, &reply); err != nil {
		return false, err
	}
	if reply.Error != "" {
		return false, errors.New(reply.Error)
	}
	return reply.Value, nil
}

// Capability implements ports.Guest. The implementation stays in the guest
// process; the returned Invocable forwards each call.
func (g *RemoteGuest) Capability(ctx context.Context, name values.CapabilityName) (ports.Invocable, error) {
	var reply ErrorReply
	args := CapabilityArgs{Name: name.String(), Deadline: deadlineOf(ctx)}
	if err := g.call(ctx, "capability", "Plugin.Capability", args, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}

	capability := name.String()
	return ports.InvocableFunc(func(ctx context.Context, target ports.Target, args ...any) (any, error) {
		return g.invoke(ctx, capability, target, args)
	}), nil
}

// Close ends the guest process, if the handle owns one.
func (g *RemoteGuest) Close() error {
	if g.kill != nil {
		g.kill()
		return nil
	}
	return g.client.Close()
}

func (g *RemoteGuest) invoke(ctx context.Context, capability string, target ports.Target, args []any) (any, error) {
	encoded, err := wire.encodeArgs(args)
	if err != nil {
		return nil, entities.NewTransportError(g.name, "invoke", err)
	}

	var reply InvokeReply
	req := InvokeArgs{Capability: capability, Target: toPayload(target), Args: encoded, Deadline: deadlineOf(ctx)}
	if err := g.call(ctx, "invoke", "Plugin.Invoke", req, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}

	out, err := wire.decodeResult(reply.Result)
	if err != nil {
		return nil, entities.NewTransportError(g.name, "invoke", err)
	}
	return out, nil
}

// call issues one RPC. It returns ctx.Err() when the context ends first;
// the reply, if it ever arrives, is dropped.
func (g *RemoteGuest) call(ctx context.Context, op, method string, args, reply any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := g.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-c.Done:
		if c.Error != nil {
			return entities.NewTransportError(g.name, op, c.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func withDeadline(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
