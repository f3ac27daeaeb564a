package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// bridge calls a compiled provider's exported functions using the
// malloc/free, pointer+length-in/packed-pointer+length-out calling
// convention the teacher's WASM providers already use.
//
// Adapted from pkg/providers/host/bridge.go, trimmed to the four
// exports the resource.Provider contract actually needs
// (provider_create, provider_read, provider_update, provider_delete)
// plus provider_init; the teacher's provider_plan/provider_apply/
// provider_destroy/provider_validate/provider_schema/provider_metadata
// exports modeled a richer protocol this contract doesn't have a caller
// for, so they are not wired here.
type bridge struct {
	module api.Module
	memory api.Memory

	malloc api.Function
	free   api.Function

	init_   api.Function
	create  api.Function
	read    api.Function
	update  api.Function
	delete_ api.Function
}

func newBridge(module api.Module) (*bridge, error) {
	b := &bridge{module: module, memory: module.Memory()}
	if b.memory == nil {
		return nil, fmt.Errorf("wasm: module does not export memory")
	}

	required := map[string]*api.Function{
		"malloc":          &b.malloc,
		"free":            &b.free,
		"provider_init":   &b.init_,
		"provider_create": &b.create,
		"provider_read":   &b.read,
		"provider_update": &b.update,
		"provider_delete": &b.delete_,
	}
	for name, slot := range required {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("wasm: module does not export %s", name)
		}
		*slot = fn
	}
	return b, nil
}

func (b *bridge) callInit(ctx context.Context, input []byte) ([]byte, error) {
	return b.call(ctx, b.init_, input)
}

func (b *bridge) callCreate(ctx context.Context, input []byte) ([]byte, error) {
	return b.call(ctx, b.create, input)
}

func (b *bridge) callRead(ctx context.Context, input []byte) ([]byte, error) {
	return b.call(ctx, b.read, input)
}

func (b *bridge) callUpdate(ctx context.Context, input []byte) ([]byte, error) {
	return b.call(ctx, b.update, input)
}

func (b *bridge) callDelete(ctx context.Context, input []byte) ([]byte, error) {
	return b.call(ctx, b.delete_, input)
}

// call marshals input into WASM memory, invokes fn(ptr, len) -> packed
// (outPtr<<32 | outLen), reads the result back out, and frees both sides
// of the exchange.
func (b *bridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inPtr, inLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.deallocate(ctx, ptr)
		if !b.memory.Write(ptr, input) {
			return nil, fmt.Errorf("wasm: failed to write input to module memory")
		}
		inPtr, inLen = ptr, uint32(len(input))
	}

	results, err := fn.Call(ctx, uint64(inPtr), uint64(inLen))
	if err != nil {
		return nil, fmt.Errorf("wasm: function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("wasm: function returned no results")
	}

	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed & 0xFFFFFFFF)
	if outLen == 0 {
		return []byte("{}"), nil
	}

	out, ok := b.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("wasm: failed to read output from module memory")
	}
	// Copy before freeing: Read returns a view into module memory that
	// deallocate may invalidate.
	result := append([]byte(nil), out...)
	b.deallocate(ctx, outPtr)
	return result, nil
}

func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("wasm: malloc failed: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, fmt.Errorf("wasm: malloc returned null")
	}
	return uint32(results[0]), nil
}

func (b *bridge) deallocate(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	_, _ = b.free.Call(ctx, uint64(ptr))
}
