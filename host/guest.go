package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
	"github.com/reglet-dev/reglet-guest-sdk/guest/ports"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	abi "github.com/reglet-dev/reglet-guest-sdk/wazero"
)

// Guest ABI exports. Every payload crosses as a packed (ptr<<32 | len) i64.
const (
	exportAllocate      = "allocate"
	exportManifest      = "manifest"
	exportDetect        = "detect"
	exportHasCapability = "has_capability"
	exportInvoke        = "invoke"
)

var requiredExports = []string{exportAllocate, exportManifest, exportDetect, exportHasCapability, exportInvoke}

type targetPayload struct {
	ID    string            `json:"id"`
	Facts map[string]string `json:"facts,omitempty"`
}

type invokeRequest struct {
	Capability string        `json:"capability"`
	Target     targetPayload `json:"target"`
	Args       []any         `json:"args,omitempty"`
}

type invokeResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WasmGuest is a guest backed by one wazero module instance.
// Module instances are not reentrant, so calls are serialized.
type WasmGuest struct {
	mu       sync.Mutex
	module   api.Module
	compiled wazero.CompiledModule
}

var (
	_ ports.Guest     = (*WasmGuest)(nil)
	_ ports.Describer = (*WasmGuest)(nil)
)

// Name returns the wazero module name of the instance.
func (g *WasmGuest) Name() string {
	return g.module.Name()
}

// Manifest asks the module to describe itself.
func (g *WasmGuest) Manifest(ctx context.Context) (values.Manifest, error) {
	var m values.Manifest
	out, err := g.call(ctx, "describe", exportManifest, nil)
	if err != nil {
		return m, err
	}
	data, err := abi.ReadPacked(g.module.Memory(), out)
	if err != nil {
		return m, g.transport("describe", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, g.transport("describe", fmt.Errorf("failed to decode manifest: %w", err))
	}
	return m, nil
}

// Detect implements ports.Guest.
func (g *WasmGuest) Detect(ctx context.Context, target ports.Target) (bool, error) {
	payload, err := json.Marshal(toPayload(target))
	if err != nil {
		return false, g.transport("detect", err)
	}
	out, err := g.call(ctx, "detect", exportDetect, payload)
	if err != nil {
		return false, err
	}
	return out != 0, nil
}

// HasCapability implements ports.Guest.
func (g *WasmGuest) HasCapability(ctx context.Context, name values.CapabilityName) (bool, error) {
	out, err := g.call(ctx, "has_capability", exportHasCapability, []byte(name.String()))
	if err != nil {
		return false, err
	}
	return out != 0, nil
}

// Capability implements ports.Guest. The returned Invocable calls the
// module's invoke export with the capability name.
func (g *WasmGuest) Capability(_ context.Context, name values.CapabilityName) (ports.Invocable, error) {
	capability := name.String()
	return ports.InvocableFunc(func(ctx context.Context, target ports.Target, args ...any) (any, error) {
		return g.invoke(ctx, capability, target, args)
	}), nil
}

// Close releases the module instance.
func (g *WasmGuest) Close() error {
	ctx := context.Background()
	err := g.module.Close(ctx)
	if cerr := g.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

func (g *WasmGuest) invoke(ctx context.Context, capability string, target ports.Target, args []any) (any, error) {
	payload, err := json.Marshal(invokeRequest{Capability: capability, Target: toPayload(target), Args: args})
	if err != nil {
		return nil, g.transport("invoke", fmt.Errorf("failed to encode arguments: %w", err))
	}

	out, err := g.call(ctx, "invoke", exportInvoke, payload)
	if err != nil {
		return nil, err
	}
	data, err := abi.ReadPacked(g.module.Memory(), out)
	if err != nil {
		return nil, g.transport("invoke", err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, g.transport("invoke", fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Result, nil
}

// call writes payload into guest memory and runs the named export.
// A zero-length payload is passed as a zero packed pointer.
func (g *WasmGuest) call(ctx context.Context, op, export string, payload []byte) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.module.IsClosed() {
		return 0, g.transport(op, errors.New("module closed"))
	}
	fn := g.module.ExportedFunction(export)
	if fn == nil {
		return 0, g.transport(op, fmt.Errorf("module does not export %q", export))
	}

	var params []uint64
	if len(fn.Definition().ParamTypes()) > 0 {
		packed, err := g.write(ctx, payload)
		if err != nil {
			return 0, err
		}
		params = []uint64{packed}
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%s trapped: %w", export, err)
	}
	if len(results) == 0 {
		return 0, g.transport(op, fmt.Errorf("%s returned no result", export))
	}
	return results[0], nil
}

func (g *WasmGuest) write(ctx context.Context, payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	//nolint:gosec // payloads are bounded by guest memory
	size := uint32(len(payload))

	results, err := g.module.ExportedFunction(exportAllocate).Call(ctx, uint64(size))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, g.transport("allocate", err)
	}
	//nolint:gosec // allocate returns an i32 pointer
	ptr := uint32(results[0])
	mem := g.module.Memory()
	if mem == nil {
		return 0, g.transport("allocate", errors.New("module exports no memory"))
	}
	if !mem.Write(ptr, payload) {
		return 0, g.transport("allocate", fmt.Errorf("out of range write at ptr=%d len=%d", ptr, size))
	}
	return abi.PackPtrLen(ptr, size), nil
}

func (g *WasmGuest) transport(op string, err error) error {
	return entities.NewTransportError(g.module.Name(), op, err)
}

func toPayload(target ports.Target) targetPayload {
	if target == nil {
		return targetPayload{}
	}
	return targetPayload{ID: target.ID(), Facts: target.Facts()}
}
