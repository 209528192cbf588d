//go:build tinygo.wasm

// Package main implements the minimal plugin fixture: it exports only
// _start and no optional phase handlers. Driven through the phase state
// machine, it leaves the Request Context's decision accumulators at
// their fresh default (0, 0, 1) with no tags (spec scenario: "blank
// slate"). Build with:
//
//	tinygo build -o blank-slate.wasm -target wasi -no-debug main.go
package main

import "unsafe"

//go:wasmimport gk log
func hostLog(level uint32, msgPtr, msgLen uint32)

//export gk_malloc
func gk_malloc(size uint32) uint32 {
	buf := make([]byte, size)
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

//export gk_free
func gk_free(ptr uint32) {}

func writeString(s string) (uint32, uint32) {
	if len(s) == 0 {
		return 0, 0
	}
	ptr := gk_malloc(uint32(len(s)))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(s))
	copy(dst, s)
	return ptr, uint32(len(s))
}

//export _start
func _start() {
	ptr, length := writeString("blank-slate: start")
	hostLog(1, ptr, length)
}

func main() {}
