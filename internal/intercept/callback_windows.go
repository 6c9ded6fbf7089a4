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

package intercept

import (
	"syscall"

	"golang.org/x/sys/windows"

	"sigdetour/internal/memory"
)

// NewCallback makes a stdcall entry point for fn, which must take uintptr
// arguments and return one uintptr.
func NewCallback(fn interface{}) (memory.Address, error) {
	return memory.Address(windows.NewCallback(fn)), nil
}

// NewCallbackCDecl is NewCallback for cdecl targets.
func NewCallbackCDecl(fn interface{}) (memory.Address, error) {
	return memory.Address(windows.NewCallbackCDecl(fn)), nil
}

// NativeBinder calls through a trampoline.
func NativeBinder(tramp memory.Address) Native {
	return func(args ...uintptr) uintptr {
		r, _, _ := syscall.SyscallN(uintptr(tramp), args...)
		return r
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
