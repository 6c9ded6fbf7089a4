package main

import (
	"fmt"
)

const maxCallbackArgs = 6

// callbackFor wraps body in a func with n uintptr arguments, the shape
// native callbacks need.
func callbackFor(n int, body func(args ...uintptr) uintptr) (interface{}, error) {
	switch n {
	case 0:
		return func() uintptr { return body() }, nil
	case 1:
		return func(a uintptr) uintptr { return body(a) }, nil
	case 2:
		return func(a, b uintptr) uintptr { return body(a, b) }, nil
	case 3:
		return func(a, b, c uintptr) uintptr { return body(a, b, c) }, nil
	case 4:
		return func(a, b, c, d uintptr) uintptr { return body(a, b, c, d) }, nil
	case 5:
		return func(a, b, c, d, e uintptr) uintptr { return body(a, b, c, d, e) }, nil
	case 6:
		return func(a, b, c, d, e, f uintptr) uintptr { return body(a, b, c, d, e, f) }, nil
	}
	return nil, fmt.Errorf("cannot make a callback with %d arguments, at most %d are supported", n, maxCallbackArgs)
}
