//go:build !opendht || !cgo

package factory

import (
	"fmt"

	"github.com/opd-ai/opendht/interfaces"
)

// NativeAvailable reports whether the libopendht backend was compiled in.
const NativeAvailable = false

func newNativeEngine(*interfaces.EngineConfig) (interfaces.Engine, error) {
	return nil, fmt.Errorf("%w: %s (rebuild with -tags opendht)", ErrBackendUnavailable, interfaces.BackendNative)
}
