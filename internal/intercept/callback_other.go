//go:build !windows

package intercept

import (
	"errors"

	"sigdetour/internal/memory"
)

var ErrNoCallbacks = errors.New("native callbacks are only available on windows")

func NewCallback(fn interface{}) (memory.Address, error) {
	return 0, ErrNoCallbacks
}

func NewCallbackCDecl(fn interface{}) (memory.Address, error) {
	return 0, ErrNoCallbacks
}

// NativeBinder cannot call native code here. The nil result makes
// hook.Record refuse the install, so only redirects with a nil Bind work.
func NativeBinder(tramp memory.Address) Native {
	return nil
}
