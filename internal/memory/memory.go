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

// Package memory describes memory that belongs to somebody else: the host
// process image, another process, or a synthetic buffer standing in for
// either of them.
//
// An Address is never dereferenced directly by callers. Reads and writes go
// through a Reader or a Writer, which makes every access to observed memory
// explicit. Writing is the exception, not the rule: it is only done to
// install or remove inline hooks.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Address is an absolute address inside observed memory.
type Address uintptr

func (a Address) String() string {
	return fmt.Sprintf("0x%X", uintptr(a))
}

func (a Address) IsNil() bool {
	return a == 0
}

// Add returns a shifted by a signed delta, wrapping like pointer arithmetic.
func (a Address) Add(delta int64) Address {
	if delta < 0 {
		return a - Address(uint64(-delta))
	}
	return a + Address(uint64(delta))
}

// Range is a base address and a length in bytes.
type Range struct {
	Base Address
	Size uintptr
}

func (r Range) Valid() bool {
	return r.Base != 0 && r.Size != 0
}

func (r Range) End() Address {
	return r.Base + Address(r.Size)
}

func (r Range) Contains(a Address) bool {
	return a >= r.Base && a < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Base, r.End())
}

var (
	ErrFault       = errors.New("memory fault")
	ErrUnsupported = errors.New("operation is not supported on this platform")
)

type Reader interface {
	Read(addr Address, size int) ([]byte, error)
}

type Writer interface {
	Write(addr Address, data []byte) error
}

// Allocator hands out executable memory for trampolines.
type Allocator interface {
	Alloc(size int) (Address, error)
	Free(addr Address) error
}

type Memory interface {
	Reader
	Writer
	Allocator
}

func ReadU32(r Reader, addr Address) (uint32, error) {
	buf, err := r.Read(addr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf), nil
}

func ReadS32(r Reader, addr Address) (int32, error) {
	v, err := ReadU32(r, addr)
	return int32(v), err
}

// ReadPtr reads a little-endian pointer of ptrSize (4 or 8) bytes.
func ReadPtr(r Reader, addr Address, ptrSize int) (Address, error) {
	buf, err := r.Read(addr, ptrSize)
	if err != nil {
		return 0, err
	}

	switch ptrSize {
	case 4:
		return Address(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return Address(binary.LittleEndian.Uint64(buf)), nil
	}

	return 0, fmt.Errorf("unsupported pointer size %d", ptrSize)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
