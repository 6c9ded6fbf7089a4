//go:build !windows

package image

import (
	"fmt"
	"os"
)

// Self locates modules of the current process.
func Self() Locator {
	exe, _ := os.Readlink("/proc/self/exe")
	return Maps{Path: "/proc/self/maps", Exe: exe}
}

// ProcessModules locates modules of another process.
func ProcessModules(pid int) (Locator, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return nil, fmt.Errorf("cannot find executable of %d: %w", pid, err)
	}

	return Maps{Path: fmt.Sprintf("/proc/%d/maps", pid), Exe: exe}, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
