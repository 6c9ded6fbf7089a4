//go:build !windows
// +build !windows

package main

import (
	"fmt"

	"sigdetour/internal/memory"
)

func loadLibrary(path string) error {
	return fmt.Errorf("cannot load %s: %w", path, memory.ErrUnsupported)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
