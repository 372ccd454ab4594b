// Package bridge forwards operations to guests across whatever boundary they
// live behind and normalizes every outcome into the guest error taxonomy.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/rpc"
	"time"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// Operation names a guest operation forwarded by the bridge.
type Operation string

const (
	OpDetect        Operation = "detect"
	OpHasCapability Operation = "has_capability"
	OpCapability    Operation = "capability"
	OpInvoke        Operation = "invoke"
	OpDescribe      Operation = "describe"
)

// Call describes one forwarded operation. Middleware reads it; it never changes it.
type Call struct {
	Guest      string
	Operation  Operation
	Capability string
}

// Handler executes a call. The innermost handler performs the guest operation.
type Handler func(ctx context.Context, call Call) error

// Middleware wraps a Handler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next Handler) Handler

// Bridge is the single path by which the core talks to guests.
// It forwards each operation exactly once and never retries.
type Bridge struct {
	timeout     time.Duration
	middlewares []Middleware
	logger      *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout sets a default deadline applied to calls whose context has none.
// Zero disables the default.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithMiddleware appends middleware to the call chain.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *Bridge) {
		b.middlewares = append(b.middlewares, mw...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Detect forwards a detection request.
func (b *Bridge) Detect(ctx context.Context, d *entities.Descriptor, target ports.Target) (bool, error) {
	var matched bool
	err := b.do(ctx, Call{Guest: d.ID(), Operation: OpDetect}, func(ctx context.Context) error {
		var err error
		matched, err = d.Guest().Detect(ctx, target)
		return err
	})
	if err != nil {
		return false, err
	}
	return matched, nil
}

// HasCapability asks a guest whether it implements a capability itself.
func (b *Bridge) HasCapability(ctx context.Context, d *entities.Descriptor, name values.CapabilityName) (bool, error) {
	var has bool
	call := Call{Guest: d.ID(), Operation: OpHasCapability, Capability: name.String()}
	err := b.do(ctx, call, func(ctx context.Context) error {
		var err error
		has, err = d.Guest().HasCapability(ctx, name)
		return err
	})
	if err != nil {
		return false, err
	}
	return has, nil
}

// Capability fetches a capability implementation from a guest.
func (b *Bridge) Capability(ctx context.Context, d *entities.Descriptor, name values.CapabilityName) (ports.Invocable, error) {
	var inv ports.Invocable
	call := Call{Guest: d.ID(), Operation: OpCapability, Capability: name.String()}
	err := b.do(ctx, call, func(ctx context.Context) error {
		var err error
		inv, err = d.Guest().Capability(ctx, name)
		if err == nil && inv == nil {
			err = errors.New("guest returned no implementation")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Invoke runs a resolved capability against a target.
func (b *Bridge) Invoke(ctx context.Context, res *entities.Resolution, target ports.Target, args ...any) (any, error) {
	if res == nil || res.Owner == nil || res.Invocable == nil {
		return nil, errors.New("invoke: incomplete resolution")
	}

	var out any
	call := Call{Guest: res.OwnerID(), Operation: OpInvoke, Capability: res.Capability.String()}
	err := b.do(ctx, call, func(ctx context.Context) error {
		var err error
		out, err = res.Invocable.Invoke(ctx, target, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Describe asks a self-describing guest for its manifest. The guest is not
// registered yet, so it is addressed by the id it is loaded under.
func (b *Bridge) Describe(ctx context.Context, id string, g ports.Describer) (values.Manifest, error) {
	var m values.Manifest
	err := b.do(ctx, Call{Guest: id, Operation: OpDescribe}, func(ctx context.Context) error {
		var err error
		m, err = g.Manifest(ctx)
		return err
	})
	if err != nil {
		return values.Manifest{}, err
	}
	return m, nil
}

func (b *Bridge) do(ctx context.Context, call Call, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
	}

	var h Handler = func(ctx context.Context, call Call) error {
		return b.forward(ctx, call, fn)
	}
	for i := len(b.middlewares) - 1; i >= 0; i-- {
		h = b.middlewares[i](h)
	}

	return Normalize(call, h(ctx, call))
}

// forward runs fn on its own goroutine so a guest that ignores its context
// cannot hold the caller past the deadline.
func (b *Bridge) forward(ctx context.Context, call Call, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &entities.InvocationError{
					Guest:      call.Guest,
					Operation:  string(call.Operation),
					Capability: call.Capability,
					Err:        fmt.Errorf("guest panicked: %v", r),
				}
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// A result that raced the deadline still wins.
		select {
		case err := <-done:
			return err
		default:
		}
		b.logger.Warn("guest call abandoned", "guest", call.Guest, "operation", call.Operation, "error", ctx.Err())
		return ctx.Err()
	}
}

// Normalize maps err into the closed taxonomy for the given call.
// Timeout, transport and invocation errors are returned unchanged. Any other
// taxonomy error came from guest code and is reported as an invocation
// failure, so a broken guest never reads as a resolution outcome.
func Normalize(call Call, err error) error {
	if err == nil {
		return nil
	}

	op := string(call.Operation)
	switch entities.Kind(err) {
	case entities.KindTimeout, entities.KindTransport, entities.KindInvocationFailed:
		return err
	case entities.KindUnknown:
	default:
		return &entities.InvocationError{Guest: call.Guest, Operation: op, Capability: call.Capability, Err: err}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &entities.TimeoutError{Guest: call.Guest, Operation: op, Err: err}
	case errors.Is(err, rpc.ErrShutdown):
		return entities.NewTransportError(call.Guest, op, err)
	default:
		return &entities.InvocationError{Guest: call.Guest, Operation: op, Capability: call.Capability, Err: err}
	}
}
