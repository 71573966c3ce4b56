//go:build opendht && cgo

package factory

import (
	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/native"
)

// NativeAvailable reports whether the libopendht backend was compiled in.
const NativeAvailable = true

func newNativeEngine(*interfaces.EngineConfig) (interfaces.Engine, error) {
	e, err := native.NewEngine()
	if err != nil {
		return nil, err
	}
	return e, nil
}
