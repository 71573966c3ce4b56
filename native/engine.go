//go:build opendht && cgo

package native

/*
#cgo pkg-config: opendht
#cgo CXXFLAGS: -std=c++17
#cgo LDFLAGS: -lstdc++
#include <stdlib.h>
#include "wrapper.h"

extern void goDone(bool success, uintptr_t state);
extern bool goValues(uint8_t **values, size_t *lens, size_t count, uintptr_t state);
extern void goCopy(char *buf, size_t len, uintptr_t dst);
*/
import "C"

import (
	"errors"
	"net/netip"
	"runtime/cgo"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/interfaces"
)

// ErrInit is returned when libopendht cannot allocate a runner.
var ErrInit = errors.New("dht_init returned NULL")

// Engine drives a libopendht DhtRunner. Go callbacks cross into C as
// cgo.Handle values; the engine deletes every handle it still holds when
// it is dropped.
type Engine struct {
	ptr unsafe.Pointer

	mu      sync.Mutex
	handles map[cgo.Handle]struct{}
}

// NewEngine allocates a runner that is not yet listening.
func NewEngine() (*Engine, error) {
	ptr := C.dht_init()
	if ptr == nil {
		return nil, ErrInit
	}
	return &Engine{ptr: unsafe.Pointer(ptr), handles: make(map[cgo.Handle]struct{})}, nil
}

func (e *Engine) track(v interface{}) C.uintptr_t {
	h := cgo.NewHandle(v)
	e.mu.Lock()
	e.handles[h] = struct{}{}
	e.mu.Unlock()
	return C.uintptr_t(h)
}

func (e *Engine) release(h cgo.Handle) {
	e.mu.Lock()
	_, ok := e.handles[h]
	delete(e.handles, h)
	e.mu.Unlock()
	if ok {
		h.Delete()
	}
}

// Run starts the runner on port.
func (e *Engine) Run(port uint16) int {
	return int(C.dht_run(e.ptr, C.uint16_t(port)))
}

// IsRunning reports whether the runner threads are active.
func (e *Engine) IsRunning() bool {
	return C.dht_is_running(e.ptr) != 0
}

// Loop runs pending runner work.
func (e *Engine) Loop() time.Duration {
	return time.Duration(C.dht_loop_ms(e.ptr)) * time.Millisecond
}

// Join stops the runner threads.
func (e *Engine) Join() {
	C.dht_join(e.ptr)
}

// Drop frees the runner and any callback handles the runner never used.
func (e *Engine) Drop() {
	if e.ptr == nil {
		return
	}
	C.dht_drop(e.ptr)
	e.ptr = nil

	e.mu.Lock()
	leaked := len(e.handles)
	for h := range e.handles {
		h.Delete()
	}
	e.handles = make(map[cgo.Handle]struct{})
	e.mu.Unlock()

	if leaked > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "native.Engine.Drop",
			"handles":  leaked,
		}).Debug("Released callback handles")
	}
}

type doneCall struct {
	e     *Engine
	done  interfaces.DoneFunc
	state uintptr
}

// Bootstrap resolves and pings addrs.
func (e *Engine) Bootstrap(addrs []netip.AddrPort, done interfaces.DoneFunc, state uintptr) {
	hosts := make([]*C.char, len(addrs))
	services := make([]*C.char, len(addrs))
	for i, a := range addrs {
		hosts[i] = C.CString(a.Addr().String())
		services[i] = C.CString(strconv.Itoa(int(a.Port())))
	}
	defer func() {
		for i := range addrs {
			C.free(unsafe.Pointer(hosts[i]))
			C.free(unsafe.Pointer(services[i]))
		}
	}()

	var hp, sp **C.char
	if len(addrs) > 0 {
		hp, sp = &hosts[0], &services[0]
	}
	h := e.track(doneCall{e: e, done: done, state: state})
	C.dht_bootstrap(e.ptr, hp, sp, C.size_t(len(addrs)), C.dht_done_cb(C.goDone), h)
}

// Put stores value under key.
func (e *Engine) Put(key, value []byte, done interfaces.DoneFunc, state uintptr) {
	h := e.track(doneCall{e: e, done: done, state: state})
	C.dht_put(e.ptr, bytesPtr(key), C.size_t(len(key)), bytesPtr(value), C.size_t(len(value)),
		C.dht_done_cb(C.goDone), h)
}

// getCall serves both the values and done callbacks of one get.
type getCall struct {
	e         *Engine
	get       interfaces.ValuesFunc
	getState  uintptr
	done      interfaces.DoneFunc
	doneState uintptr
}

func (c getCall) values(batch [][]byte) bool { return c.get(batch, c.getState) }

// Get enumerates the values stored under key.
func (e *Engine) Get(key []byte, get interfaces.ValuesFunc, getState uintptr, done interfaces.DoneFunc, doneState uintptr) {
	h := e.track(getCall{e: e, get: get, getState: getState, done: done, doneState: doneState})
	C.dht_get(e.ptr, bytesPtr(key), C.size_t(len(key)), C.dht_values_cb(C.goValues), h,
		C.dht_done_cb(C.goDone), h)
}

type listenCall struct {
	get   interfaces.ValuesFunc
	state uintptr
}

func (c listenCall) values(batch [][]byte) bool { return c.get(batch, c.state) }

// Listen subscribes to key. The handle lives until the engine is dropped.
func (e *Engine) Listen(key []byte, get interfaces.ValuesFunc, state uintptr) {
	h := e.track(listenCall{get: get, state: state})
	C.dht_listen(e.ptr, bytesPtr(key), C.size_t(len(key)), C.dht_values_cb(C.goValues), h)
}

type copyCall struct {
	cb  interfaces.CopyFunc
	dst uintptr
}

// Serialize exports known nodes through cb before returning.
func (e *Engine) Serialize(cb interfaces.CopyFunc, dst uintptr) {
	h := e.track(copyCall{cb: cb, dst: dst})
	defer e.release(cgo.Handle(h))
	C.dht_serialize(e.ptr, C.dht_copy_cb(C.goCopy), h)
}

// Deserialize bootstraps from exported nodes.
func (e *Engine) Deserialize(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if C.dht_deserialize(e.ptr, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf))) != 0 {
		logrus.WithFields(logrus.Fields{
			"function": "native.Engine.Deserialize",
			"bytes":    len(buf),
		}).Warn("libopendht rejected node snapshot")
	}
}

func bytesPtr(b []byte) *C.uint8_t {
	if len(b) == 0 {
		return nil
	}
	return (*C.uint8_t)(unsafe.Pointer(&b[0]))
}

var _ interfaces.Engine = (*Engine)(nil)
