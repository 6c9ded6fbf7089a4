//go:build !windows
// +build !windows

/**
 * Copyright 2025 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package memory

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func selfRegions() ([]Region, error) {
	maps, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return nil, err
	}

	return ParseMaps(string(maps))
}

func checkReadable(addr Address, size int) error {
	if size == 0 {
		return nil
	}

	regions, err := selfRegions()
	if err != nil {
		return fmt.Errorf("cannot list mappings: %v: %w", err, ErrFault)
	}

	cover := Covering(regions, addr, size)
	if cover == nil {
		return fmt.Errorf("cannot read %d bytes at %s: not mapped: %w", size, addr, ErrFault)
	}
	for _, r := range cover {
		if !r.Readable() {
			return fmt.Errorf("cannot read %d bytes at %s: %s is %s: %w", size, addr, r.Range, r.Perm, ErrFault)
		}
	}

	return nil
}

func protOf(r Region) int {
	prot := unix.PROT_NONE
	if r.Readable() {
		prot |= unix.PROT_READ
	}
	if r.Writable() {
		prot |= unix.PROT_WRITE
	}
	if r.Executable() {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// unprotect makes the pages under addr writable and returns a func putting
// back the protection each mapping had before.
func unprotect(addr Address, size int) (func() error, error) {
	start := Address(uintptr(addr) &^ (PageSize - 1))
	end := Address(Align(uintptr(addr)+uintptr(size), PageSize))

	regions, err := selfRegions()
	if err != nil {
		return nil, fmt.Errorf("cannot list mappings: %w", err)
	}

	cover := Covering(regions, start, int(end-start))
	if cover == nil {
		return nil, fmt.Errorf("cannot write %d bytes at %s: not mapped: %w", size, addr, ErrFault)
	}

	err = unix.Mprotect(view(start, int(end-start)), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
	if err != nil {
		return nil, err
	}

	return func() error {
		for _, r := range cover {
			from, to := r.Base, r.End()
			if from < start {
				from = start
			}
			if to > end {
				to = end
			}

			if err := unix.Mprotect(view(from, int(to-from)), protOf(r)); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func flushCode(addr Address, size int) {
}

func allocExec(size int) ([]byte, error) {
	return unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
}

func freeExec(page []byte) error {
	return unix.Munmap(page)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
