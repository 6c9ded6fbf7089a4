//go:build windows

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

package image

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"sigdetour/internal/memory"
)

type self struct{}

// Self locates modules of the current process. The module reference count is
// left untouched.
func Self() Locator {
	return self{}
}

func (self) Base(name string) (memory.Address, error) {
	var namep *uint16
	if name != "" {
		var err error
		namep, err = windows.UTF16PtrFromString(name)
		if err != nil {
			return 0, err
		}
	}

	var h windows.Handle
	err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, namep, &h)
	if err != nil || h == 0 {
		return 0, fmt.Errorf("%v: %w", err, notFound(name))
	}

	return memory.Address(h), nil
}

type processModules struct {
	pid int
}

// ProcessModules locates modules of another process.
func ProcessModules(pid int) (Locator, error) {
	return processModules{pid: pid}, nil
}

func (p processModules) Base(name string) (memory.Address, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(p.pid))
	if err != nil {
		return 0, fmt.Errorf("cannot open process %d: %w", p.pid, err)
	}
	defer windows.CloseHandle(h)

	var needed uint32
	mods := make([]windows.Handle, 1024)
	for {
		cb := uint32(len(mods)) * uint32(unsafe.Sizeof(mods[0]))
		err = windows.EnumProcessModulesEx(h, &mods[0], cb, &needed, windows.LIST_MODULES_ALL)
		if err != nil {
			return 0, fmt.Errorf("cannot enumerate modules of %d: %w", p.pid, err)
		}
		if needed <= cb {
			break
		}
		mods = make([]windows.Handle, needed/uint32(unsafe.Sizeof(mods[0])))
	}
	mods = mods[:needed/uint32(unsafe.Sizeof(mods[0]))]

	if len(mods) == 0 {
		return 0, notFound(name)
	}

	// the first module is the executable
	if name == "" {
		return memory.Address(mods[0]), nil
	}

	buf := make([]uint16, windows.MAX_PATH)
	for _, m := range mods {
		err = windows.GetModuleBaseName(h, m, &buf[0], uint32(len(buf)))
		if err != nil {
			continue
		}

		if strings.EqualFold(windows.UTF16ToString(buf), name) {
			return memory.Address(m), nil
		}
	}

	return 0, notFound(name)
}

// vim: ai:ts=8:sw=8:noet:syntax=go
