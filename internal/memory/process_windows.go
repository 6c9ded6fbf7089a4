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

const MEM_FREE = 0x10000

// Process is the address space of another process.
type Process struct {
	Pid int

	hProcess windows.Handle
	is64     bool
}

func OpenProcess(pid int) (*Process, error) {
	hProcess, err := windows.OpenProcess(
		windows.PROCESS_VM_READ|
			windows.PROCESS_VM_WRITE|
			windows.PROCESS_VM_OPERATION|
			windows.PROCESS_QUERY_INFORMATION,
		false,
		uint32(pid),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot open process %d: %w", pid, err)
	}

	var isWow64 bool
	err = windows.IsWow64Process(hProcess, &isWow64)
	if err != nil {
		windows.CloseHandle(hProcess)
		return nil, err
	}

	return &Process{Pid: pid, hProcess: hProcess, is64: !isWow64}, nil
}

func (p *Process) Handle() windows.Handle {
	return p.hProcess
}

func (p *Process) Is64() bool {
	return p.is64
}

func (p *Process) Read(addr Address, size int) ([]byte, error) {
	if size <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	var done uintptr
	err := windows.ReadProcessMemory(p.hProcess, uintptr(addr), &buf[0], uintptr(size), &done)
	if err != nil {
		return nil, fmt.Errorf(
			"ReadProcessMemory(%x, %x, nSize=%d) has failed: %s: %w",
			p.hProcess,
			uintptr(addr),
			size,
			err,
			ErrFault,
		)
	}
	if int(done) < size {
		return nil, fmt.Errorf("short read %x %x: got %d bytes: %w", uintptr(addr), size, done, ErrFault)
	}

	return buf, nil
}

func (p *Process) Write(addr Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	var done uintptr
	err := windows.WriteProcessMemory(p.hProcess, uintptr(addr), &buf[0], uintptr(len(buf)), &done)
	if err != nil {
		return fmt.Errorf("cannot write to %x: %s: %w", uintptr(addr), err, ErrFault)
	}

	return nil
}

func (p *Process) Alloc(size int) (Address, error) {
	page_size := Align(size, PageSize)
	addr, _, err := procVirtualAllocEx.Call(
		uintptr(p.hProcess),
		0,
		uintptr(page_size),
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		windows.PAGE_EXECUTE_READWRITE,
	)
	if addr == 0 {
		if err == nil || err == ERROR_OKAY {
			err = ErrFault
		}
		return 0, fmt.Errorf("could not allocate the executable scratch page: %w", err)
	}

	return Address(addr), nil
}

func (p *Process) Free(addr Address) error {
	ret, _, err := procVirtualFreeEx.Call(
		uintptr(p.hProcess),
		uintptr(addr),
		0,
		windows.MEM_RELEASE,
	)
	if ret == 0 {
		return fmt.Errorf("cannot free %s: %w", addr, err)
	}

	return nil
}

func protectString(protect uint32) string {
	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return "r--p"
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return "rw-p"
	case windows.PAGE_EXECUTE:
		return "--xp"
	case windows.PAGE_EXECUTE_READ:
		return "r-xp"
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return "rwxp"
	}

	return "---p"
}

// Regions walks the committed regions of the process with VirtualQueryEx.
func (p *Process) Regions() ([]Region, error) {
	var pnext uintptr
	var mbi windows.MemoryBasicInformation
	var regions []Region

	for {
		err := windows.VirtualQueryEx(p.hProcess, pnext, &mbi, unsafe.Sizeof(mbi))
		if err != nil {
			break
		}

		pnext = mbi.BaseAddress + mbi.RegionSize
		if mbi.RegionSize == 0 {
			break
		}

		if mbi.State == MEM_FREE || mbi.State != windows.MEM_COMMIT {
			continue
		}

		regions = append(regions, Region{
			Range: Range{Base: Address(mbi.BaseAddress), Size: mbi.RegionSize},
			Perm:  protectString(mbi.Protect),
		})
	}

	return regions, nil
}

func (p *Process) Close() error {
	return windows.CloseHandle(p.hProcess)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
