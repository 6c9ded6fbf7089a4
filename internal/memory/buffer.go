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
)

// Buffer is a synthetic address space: a byte slice mapped at a fixed base.
// Allocations are carved out of the space right after the mapped bytes so
// that trampolines stay within rel32 reach of the code they serve.
type Buffer struct {
	mu     sync.RWMutex
	base   Address
	data   []byte
	allocs map[Address]int
}

func NewBuffer(base Address, data []byte) *Buffer {
	return &Buffer{
		base:   base,
		data:   data,
		allocs: make(map[Address]int),
	}
}

func (b *Buffer) Base() Address {
	return b.base
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.data)
}

func (b *Buffer) Range() Range {
	return Range{Base: b.base, Size: uintptr(b.Len())}
}

func (b *Buffer) offset(addr Address, size int) (int, error) {
	if size < 0 || addr < b.base {
		return 0, fmt.Errorf("cannot access %d bytes at %s: %w", size, addr, ErrFault)
	}

	off := uintptr(addr - b.base)
	if off+uintptr(size) > uintptr(len(b.data)) {
		return 0, fmt.Errorf("cannot access %d bytes at %s: %w", size, addr, ErrFault)
	}

	return int(off), nil
}

func (b *Buffer) Read(addr Address, size int) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	off, err := b.offset(addr, size)
	if err != nil {
		return nil, err
	}

	out := make([]byte, size)
	copy(out, b.data[off:])
	return out, nil
}

func (b *Buffer) Write(addr Address, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	off, err := b.offset(addr, len(data))
	if err != nil {
		return err
	}

	copy(b.data[off:], data)
	return nil
}

func (b *Buffer) Alloc(size int) (Address, error) {
	if size <= 0 {
		return 0, fmt.Errorf("cannot allocate %d bytes", size)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	off := Align(len(b.data), 16)
	grown := make([]byte, off+Align(size, 16))
	copy(grown, b.data)
	for i := len(b.data); i < len(grown); i++ {
		grown[i] = 0xCC // int3
	}
	b.data = grown

	addr := b.base + Address(off)
	b.allocs[addr] = size
	return addr, nil
}

func (b *Buffer) Free(addr Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	size, ok := b.allocs[addr]
	if !ok {
		return fmt.Errorf("cannot free %s: %w", addr, ErrFault)
	}
	delete(b.allocs, addr)

	off := int(addr - b.base)
	for i := off; i < off+size; i++ {
		b.data[i] = 0xCC
	}
	return nil
}

// Allocated reports whether addr is the start of a live allocation.
func (b *Buffer) Allocated(addr Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.allocs[addr]
	return ok
}

// vim: ai:ts=8:sw=8:noet:syntax=go
