package wazero

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// PackPtrLen packs a guest pointer and length into one i64, pointer in the high half.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed i64 into pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	//nolint:gosec // WASM pointers and lengths are 32-bit
	return uint32(packed >> 32), uint32(packed)
}

// ReadPacked copies the bytes a packed pointer refers to out of guest memory.
func ReadPacked(mem api.Memory, packed uint64) ([]byte, error) {
	ptr, length := UnpackPtrLen(packed)
	if length == 0 {
		return nil, nil
	}
	if mem == nil {
		return nil, fmt.Errorf("module exports no memory")
	}
	data, ok := mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("out of range read at ptr=%d len=%d", ptr, length)
	}
	return append([]byte(nil), data...), nil
}
