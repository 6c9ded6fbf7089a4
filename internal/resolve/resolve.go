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

// Package resolve turns pattern hits into the addresses they point at.
package resolve

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"golang.org/x/arch/x86/x86asm"

	"sigdetour/internal/memory"
)

var (
	ErrNilAddress = errors.New("nil address")
	// ErrNoTarget is returned for a zero displacement.
	ErrNoTarget   = errors.New("instruction has no target")
	ErrNotBranch  = errors.New("not a relative branch")
)

const rel32Len = 5 // E8/E9 + disp32

// RVAToPointer returns base+rva, or zero if either is zero.
func RVAToPointer(base memory.Address, rva uint32) memory.Address {
	if base == 0 || rva == 0 {
		return 0
	}
	return base + memory.Address(rva)
}

// FollowRelative returns the target of the 5-byte relative call or jump at
// insn. The opcode byte itself is not checked.
func FollowRelative(r memory.Reader, insn memory.Address) (memory.Address, error) {
	return Relative(r, insn, 1, rel32Len)
}

// Relative returns the target of the instruction at `at` whose signed 32-bit
// displacement sits dispOffset bytes in and which is insnLen bytes long.
// This covers rel32 branches as well as RIP-relative operands.
func Relative(r memory.Reader, at memory.Address, dispOffset, insnLen int) (memory.Address, error) {
	if at.IsNil() {
		return 0, ErrNilAddress
	}

	disp, err := memory.ReadS32(r, at.Add(int64(dispOffset)))
	if err != nil {
		return 0, fmt.Errorf("cannot read displacement at %s: %w", at, err)
	}

	if disp == 0 {
		return 0, fmt.Errorf("%s: %w", at, ErrNoTarget)
	}

	return at.Add(int64(insnLen) + int64(disp)), nil
}

// Offset shifts addr, keeping nil addresses nil.
func Offset(addr memory.Address, delta int64) (memory.Address, error) {
	if addr.IsNil() {
		return 0, ErrNilAddress
	}
	return addr.Add(delta), nil
}

// Deref reads the pointer stored at addr.
func Deref(r memory.Reader, addr memory.Address, ptrSize int) (memory.Address, error) {
	if addr.IsNil() {
		return 0, ErrNilAddress
	}

	p, err := memory.ReadPtr(r, addr, ptrSize)
	if err != nil {
		return 0, fmt.Errorf("cannot dereference %s: %w", addr, err)
	}

	if p.IsNil() {
		return 0, fmt.Errorf("%s: %w", addr, ErrNilAddress)
	}

	return p, nil
}

func readCode(r memory.Reader, addr memory.Address) ([]byte, error) {
	for n := 15; n > 0; n-- {
		buf, err := r.Read(addr, n)
		if err == nil {
			return buf, nil
		}
		if n == 1 {
			return nil, err
		}
	}
	return nil, memory.ErrFault
}

// FollowBranch decodes the instruction at addr and returns the destination
// of a relative CALL, JMP or Jcc. mode is 32 or 64.
func FollowBranch(r memory.Reader, addr memory.Address, mode int) (memory.Address, error) {
	if addr.IsNil() {
		return 0, ErrNilAddress
	}

	code, err := readCode(r, addr)
	if err != nil {
		return 0, fmt.Errorf("cannot read instruction at %s: %w", addr, err)
	}

	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return 0, fmt.Errorf("cannot decode instruction at %s: %w", addr, err)
	}

	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok || !isBranch(inst.Op) {
		return 0, fmt.Errorf("%s: %v: %w", addr, inst, ErrNotBranch)
	}

	if rel == 0 {
		return 0, fmt.Errorf("%s: %w", addr, ErrNoTarget)
	}

	return addr.Add(int64(inst.Len) + int64(rel)), nil
}

func isBranch(op x86asm.Op) bool {
	switch op {
	case x86asm.CALL, x86asm.JMP,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JO, x86asm.JNO,
		x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

// WString reads a NUL-terminated UTF-16LE string of at most max characters.
func WString(r memory.Reader, addr memory.Address, max int) (string, error) {
	if addr.IsNil() {
		return "", ErrNilAddress
	}

	var units []uint16
	for len(units) < max {
		buf, err := r.Read(addr.Add(int64(2*len(units))), 2)
		if err != nil {
			return "", fmt.Errorf("cannot read string at %s: %w", addr, err)
		}

		u := uint16(buf[0]) | uint16(buf[1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}

	return string(utf16.Decode(units)), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
