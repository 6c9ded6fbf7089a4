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

// Package image finds loaded PE modules and reads just enough of their
// headers to know where the code section lives.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"

	"sigdetour/internal/memory"
	"sigdetour/internal/resolve"
)

var (
	ErrInvalidImage   = errors.New("invalid PE image")
	ErrModuleNotFound = errors.New("module not found")
)

const (
	dosMagic   = 0x5A4D     // MZ
	ntMagic    = 0x00004550 // PE\0\0
	optMagic32 = 0x10b
	optMagic64 = 0x20b

	dosHeaderSize  = 0x40
	fileHeaderSize = 20
	optHeaderMin   = 24
	optHeaderImage = 60

	imageFileDLL = 0x2000
)

// Module is a PE image mapped at Base.
type Module struct {
	Name            string
	Base            memory.Address
	Machine         uint16
	Characteristics uint16
	Is64            bool
	EntryPoint      uint32
	CodeOffset      uint32
	CodeSize        uint32
	ImageSize       uint32
}

// Code is the range described by BaseOfCode and SizeOfCode. A zero
// BaseOfCode gives a range with a nil base.
func (m *Module) Code() memory.Range {
	return memory.Range{
		Base: resolve.RVAToPointer(m.Base, m.CodeOffset),
		Size: uintptr(m.CodeSize),
	}
}

func (m *Module) IsDLL() bool {
	return m.Characteristics&imageFileDLL != 0
}

func (m *Module) PtrSize() int {
	if m.Is64 {
		return 8
	}
	return 4
}

func invalid(base memory.Address, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s: %w", base, fmt.Sprintf(format, args...), ErrInvalidImage)
}

// Parse validates the DOS and NT headers of the image at base.
func Parse(r memory.Reader, base memory.Address) (*Module, error) {
	if base.IsNil() {
		return nil, invalid(base, "nil base")
	}

	dos, err := r.Read(base, dosHeaderSize)
	if err != nil {
		return nil, invalid(base, "cannot read DOS header: %v", err)
	}

	if binary.LittleEndian.Uint16(dos) != dosMagic {
		return nil, invalid(base, "bad DOS magic")
	}

	e_lfanew := int32(binary.LittleEndian.Uint32(dos[0x3C:]))
	if e_lfanew <= 0 {
		return nil, invalid(base, "bad e_lfanew %d", e_lfanew)
	}

	nt_addr := base + memory.Address(e_lfanew)
	nt, err := r.Read(nt_addr, 4+fileHeaderSize)
	if err != nil {
		return nil, invalid(base, "cannot read NT headers: %v", err)
	}

	if binary.LittleEndian.Uint32(nt) != ntMagic {
		return nil, invalid(base, "bad NT signature")
	}

	fh := nt[4:]
	m := &Module{
		Base:            base,
		Machine:         binary.LittleEndian.Uint16(fh[0:]),
		Characteristics: binary.LittleEndian.Uint16(fh[18:]),
	}

	opt_size := int(binary.LittleEndian.Uint16(fh[16:]))
	if opt_size == 0 {
		return nil, invalid(base, "no optional header")
	}

	want := optHeaderMin
	if opt_size >= optHeaderImage {
		want = optHeaderImage
	}
	if opt_size < want {
		return nil, invalid(base, "optional header is too short (%d bytes)", opt_size)
	}

	opt, err := r.Read(nt_addr+4+fileHeaderSize, want)
	if err != nil {
		return nil, invalid(base, "cannot read optional header: %v", err)
	}

	switch binary.LittleEndian.Uint16(opt) {
	case optMagic32:
	case optMagic64:
		m.Is64 = true
	default:
		return nil, invalid(base, "bad optional header magic 0x%x", binary.LittleEndian.Uint16(opt))
	}

	m.CodeSize = binary.LittleEndian.Uint32(opt[4:])
	m.EntryPoint = binary.LittleEndian.Uint32(opt[16:])
	m.CodeOffset = binary.LittleEndian.Uint32(opt[20:])
	if want == optHeaderImage {
		m.ImageSize = binary.LittleEndian.Uint32(opt[56:])
	}

	return m, nil
}

// Locator maps a module name to its load address. The empty name is the
// main executable.
type Locator interface {
	Base(name string) (memory.Address, error)
}

// Locate finds the module and parses its headers.
func Locate(l Locator, r memory.Reader, name string) (*Module, error) {
	base, err := l.Base(name)
	if err != nil {
		return nil, err
	}

	m, err := Parse(r, base)
	if err != nil {
		return nil, err
	}

	m.Name = name
	return m, nil
}

func notFound(name string) error {
	if name == "" {
		return fmt.Errorf("main executable: %w", ErrModuleNotFound)
	}
	return fmt.Errorf("%q: %w", name, ErrModuleNotFound)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
