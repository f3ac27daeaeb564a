package wasm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// registerHostFunctions exposes the capability-gated operations a
// compiled module may call back into the host for: an outbound HTTP
// request and a scratch temp file read/write. Every call is checked
// against the enforcer's granted set first.
func registerHostFunctions(ctx context.Context, runtime wazero.Runtime, enforcer *capabilityEnforcer) error {
	builder := runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, urlPtr, urlLen, methodPtr, methodLen uint32) uint64 {
			urlBytes, ok := mod.Memory().Read(urlPtr, urlLen)
			if !ok {
				return packHostError()
			}
			methodBytes, ok := mod.Memory().Read(methodPtr, methodLen)
			if !ok {
				return packHostError()
			}
			resp, err := enforcer.httpRequest(string(methodBytes), string(urlBytes), nil)
			if err != nil {
				return packHostError()
			}
			defer resp.Body.Close()
			return uint64(resp.StatusCode)
		}).
		Export("http_request")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) uint32 {
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return 1
			}
			dataBytes, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return 1
			}
			if err := enforcer.writeTempFile(string(nameBytes), dataBytes); err != nil {
				return 1
			}
			return 0
		}).
		Export("write_temp_file")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return packHostError()
			}
			data, err := enforcer.readTempFile(string(nameBytes))
			if err != nil {
				return packHostError()
			}
			return uint64(len(data))
		}).
		Export("read_temp_file")

	_, err := builder.Instantiate(ctx)
	return err
}

// packHostError signals failure to the module via the error bit of a
// packed return value; the module is expected to treat any set error bit
// as "the host function failed" and proceed without the result.
func packHostError() uint64 {
	return uint64(1) << 32
}
