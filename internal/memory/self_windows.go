//go:build windows
// +build windows

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
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
	procVirtualAllocEx        = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx         = kernel32.NewProc("VirtualFreeEx")
)

var ERROR_OKAY windows.Errno = 0

func checkReadable(addr Address, size int) error {
	var mbi windows.MemoryBasicInformation

	end := uintptr(addr) + uintptr(size)
	for cur := uintptr(addr); cur < end; {
		err := windows.VirtualQuery(cur, &mbi, unsafe.Sizeof(mbi))
		if err != nil {
			return fmt.Errorf("VirtualQuery(%x) has failed: %w", cur, err)
		}

		if mbi.State != windows.MEM_COMMIT || mbi.Protect == 0 ||
			mbi.Protect&(windows.PAGE_NOACCESS|windows.PAGE_GUARD) != 0 {
			return fmt.Errorf("cannot read %d bytes at %s: %w", size, addr, ErrFault)
		}

		cur = mbi.BaseAddress + mbi.RegionSize
	}

	return nil
}

func unprotect(addr Address, size int) (func() error, error) {
	var oldProtect uint32
	err := windows.VirtualProtect(uintptr(addr), uintptr(size), windows.PAGE_EXECUTE_READWRITE, &oldProtect)
	if err != nil {
		return nil, fmt.Errorf("VirtualProtect failed: %w", err)
	}

	return func() error {
		var tmp uint32
		return windows.VirtualProtect(uintptr(addr), uintptr(size), oldProtect, &tmp)
	}, nil
}

func flushCode(addr Address, size int) {
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), uintptr(addr), uintptr(size))
}

func allocExec(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(
		0,
		uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_EXECUTE_READWRITE,
	)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func freeExec(page []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&page[0])), 0, windows.MEM_RELEASE)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
