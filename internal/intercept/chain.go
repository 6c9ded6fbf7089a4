package intercept

// Native calls a function with the platform calling convention.
type Native func(args ...uintptr) uintptr

// PostFunc looks at a finished call. It returns the new result and true to
// change what the caller sees.
type PostFunc func(args []uintptr, ret uintptr) (uintptr, bool)

// Chain returns a replacement body which runs the original before post.
func Chain(original Native, post PostFunc) func(args ...uintptr) uintptr {
	return func(args ...uintptr) uintptr {
		ret := original(args...)
		if post == nil {
			return ret
		}

		if alt, ok := post(args, ret); ok {
			return alt
		}
		return ret
	}
}
