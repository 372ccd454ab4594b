package rpc

import (
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// net/rpc carries these with gob. Capability arguments and results are
// dynamically typed, so they travel inside as CBOR.

// TargetPayload is the snapshot of a target sent to a remote guest.
type TargetPayload struct {
	ID    string
	Facts map[string]string
}

// DetectArgs asks a guest whether it applies to a target.
type DetectArgs struct {
	Target   TargetPayload
	Deadline time.Time
}

// CapabilityArgs names a capability.
type CapabilityArgs struct {
	Name     string
	Deadline time.Time
}

// InvokeArgs runs a capability.
type InvokeArgs struct {
	Capability string
	Target     TargetPayload
	Args       []byte
	Deadline   time.Time
}

// BoolReply carries a yes/no answer or the guest's own error.
type BoolReply struct {
	Value bool
	Error string
}

// ErrorReply carries only the guest's own error.
type ErrorReply struct {
	Error string
}

// InvokeReply carries an encoded result or the guest's own error.
type InvokeReply struct {
	Result []byte
	Error  string
}

type codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var wire = mustCodec()

func mustCodec() codec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(err)
	}
	return codec{enc: em, dec: dm}
}

func (c codec) encodeArgs(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data, err := c.enc.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	return data, nil
}

func (c codec) decodeArgs(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var args []any
	if err := c.dec.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return args, nil
}

func (c codec) encodeResult(v any) ([]byte, error) {
	data, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return data, nil
}

func (c codec) decodeResult(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := c.dec.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return v, nil
}

func toPayload(t ports.Target) TargetPayload {
	if t == nil {
		return TargetPayload{}
	}
	return TargetPayload{ID: t.ID(), Facts: t.Facts()}
}

func (p TargetPayload) target() values.StaticTarget {
	return values.NewTarget(p.ID, p.Facts)
}

func deadlineOf(ctx interface{ Deadline() (time.Time, bool) }) time.Time {
	d, _ := ctx.Deadline()
	return d
}
