//go:build tinygo.wasm

// Package main implements the "evil bit" plugin fixture used by the
// end-to-end scenarios in spec section 8: it exports on_request_decision,
// reads the inbound request's "Evil" header, and calls set_decision/
// set_tags accordingly. Build with:
//
//	tinygo build -o evil-bit.wasm -target wasi -no-debug main.go
package main

import (
	"encoding/json"
	"unsafe"
)

//go:wasmimport gk host_call
func hostCall(fnPtr, fnLen, argsPtr, argsLen uint32) uint64

//go:wasmimport gk log
func hostLog(level uint32, msgPtr, msgLen uint32)

//export gk_malloc
func gk_malloc(size uint32) uint32 {
	buf := make([]byte, size)
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}

//export gk_free
func gk_free(ptr uint32) {}

func readBytes(ptr, length uint32) []byte {
	if ptr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func writeBytes(b []byte) (uint32, uint32) {
	if len(b) == 0 {
		return 0, 0
	}
	ptr := gk_malloc(uint32(len(b)))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), len(b))
	copy(dst, b)
	return ptr, uint32(len(b))
}

func writeString(s string) (uint32, uint32) { return writeBytes([]byte(s)) }

func call(fn string, args []byte) []byte {
	fnPtr, fnLen := writeString(fn)
	argsPtr, argsLen := writeBytes(args)
	packed := hostCall(fnPtr, fnLen, argsPtr, argsLen)
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed & 0xFFFFFFFF)
	return readBytes(resultPtr, resultLen)
}

func log(level uint32, msg string) {
	ptr, length := writeString(msg)
	hostLog(level, ptr, length)
}

type header struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

type requestInterface struct {
	Method  string   `json:"method"`
	URI     string   `json:"uri"`
	Version string   `json:"version"`
	Headers []header `json:"headers"`
}

type decisionInterface struct {
	Accept   float64 `json:"accept"`
	Restrict float64 `json:"restrict"`
	Unknown  float64 `json:"unknown"`
}

//export _start
func _start() {}

//export on_request_decision
func on_request_decision() {
	raw := call("get_request", nil)
	var req requestInterface
	if err := json.Unmarshal(raw, &req); err != nil {
		log(3, "evil-bit: decode request failed: "+err.Error())
		return
	}

	evil := false
	for _, h := range req.Headers {
		if h.Name == "Evil" && string(h.Value) == "true" {
			evil = true
			break
		}
	}

	if evil {
		d, _ := json.Marshal(decisionInterface{Accept: 0, Restrict: 1, Unknown: 0})
		call("set_decision", d)
		tags, _ := json.Marshal([]string{"evil"})
		call("set_tags", tags)
		return
	}

	d, _ := json.Marshal(decisionInterface{Accept: 0, Restrict: 0, Unknown: 1})
	call("set_decision", d)
	tags, _ := json.Marshal([]string{})
	call("set_tags", tags)
}

func main() {}
