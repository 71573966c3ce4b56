//go:build opendht && cgo

package native

// #include "wrapper.h"
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

type valuesTarget interface {
	values(batch [][]byte) bool
}

//export goDone
func goDone(success C.bool, state C.uintptr_t) {
	h := cgo.Handle(state)
	switch call := h.Value().(type) {
	case doneCall:
		call.e.release(h)
		call.done(bool(success), call.state)
	case getCall:
		call.e.release(h)
		call.done(bool(success), call.doneState)
	default:
		panic("goDone: handle does not hold a done callback")
	}
}

//export goValues
func goValues(values **C.uint8_t, lens *C.size_t, count C.size_t, state C.uintptr_t) C.bool {
	target, ok := cgo.Handle(state).Value().(valuesTarget)
	if !ok {
		return C.bool(false)
	}

	n := int(count)
	ptrs := unsafe.Slice(values, n)
	sizes := unsafe.Slice(lens, n)
	batch := make([][]byte, n)
	for i := range batch {
		batch[i] = unsafe.Slice((*byte)(unsafe.Pointer(ptrs[i])), int(sizes[i]))
	}
	return C.bool(target.values(batch))
}

//export goCopy
func goCopy(buf *C.char, size C.size_t, dst C.uintptr_t) {
	call := cgo.Handle(dst).Value().(copyCall)
	var src []byte
	if size > 0 {
		src = unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(size))
	}
	call.cb(src, call.dst)
}
