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
	"sync"
	"unsafe"
)

// Self is the address space of the current process. The memory it reads
// belongs to the host image; Self never owns it, except for the trampoline
// pages it allocates.
type Self struct {
	mu     sync.Mutex
	allocs map[Address][]byte
}

func NewSelf() *Self {
	return &Self{allocs: make(map[Address][]byte)}
}

func view(addr Address, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
}

func (s *Self) Read(addr Address, size int) ([]byte, error) {
	if addr == 0 || size < 0 {
		return nil, fmt.Errorf("cannot read %d bytes at %s: %w", size, addr, ErrFault)
	}

	if err := checkReadable(addr, size); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	copy(out, view(addr, size))
	return out, nil
}

// Write patches code or data of the current process. Page protection is
// lifted for the duration of the copy and restored afterwards.
func (s *Self) Write(addr Address, data []byte) error {
	if addr == 0 {
		return fmt.Errorf("cannot write %d bytes at %s: %w", len(data), addr, ErrFault)
	}
	if len(data) == 0 {
		return nil
	}

	restore, err := unprotect(addr, len(data))
	if err != nil {
		return fmt.Errorf("cannot unprotect %s: %w", addr, err)
	}

	copy(view(addr, len(data)), data)
	flushCode(addr, len(data))

	if err := restore(); err != nil {
		return fmt.Errorf("cannot restore protection of %s: %w", addr, err)
	}

	return nil
}

func (s *Self) Alloc(size int) (Address, error) {
	if size <= 0 {
		return 0, fmt.Errorf("cannot allocate %d bytes", size)
	}

	page, err := allocExec(Align(size, PageSize))
	if err != nil {
		return 0, fmt.Errorf("cannot allocate executable page: %w", err)
	}

	addr := Address(uintptr(unsafe.Pointer(&page[0])))

	s.mu.Lock()
	s.allocs[addr] = page
	s.mu.Unlock()

	return addr, nil
}

func (s *Self) Free(addr Address) error {
	s.mu.Lock()
	page, ok := s.allocs[addr]
	delete(s.allocs, addr)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("cannot free %s: %w", addr, ErrFault)
	}

	return freeExec(page)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
