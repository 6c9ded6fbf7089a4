//go:build linux
// +build linux

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
	"io"
	"os"
	"sync"
)

// Process is the address space of another process, accessed through
// /proc/<pid>/mem. Allocation inside the target needs code injection and
// is not provided.
type Process struct {
	Pid int

	mem *os.File
	mu  sync.Mutex
}

func OpenProcess(pid int) (*Process, error) {
	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0600)
	if err != nil {
		mem, err = os.Open(fmt.Sprintf("/proc/%d/mem", pid))
		if err != nil {
			return nil, fmt.Errorf("cannot open memory of process %d: %w", pid, err)
		}
	}

	return &Process{Pid: pid, mem: mem}, nil
}

func (p *Process) Read(addr Address, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("cannot read %d bytes at %s: %w", size, addr, ErrFault)
	}

	buf := make([]byte, size)

	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.mem.ReadAt(buf, int64(addr))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read error %x %x: %s: %w", uintptr(addr), size, err, ErrFault)
	}
	if n < size {
		return nil, fmt.Errorf("short read %x %x: got %d bytes: %w", uintptr(addr), size, n, ErrFault)
	}

	return buf, nil
}

func (p *Process) Write(addr Address, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := int64(addr)
	for len(buf) > 0 {
		n, err := p.mem.WriteAt(buf, off)
		if err != nil {
			return fmt.Errorf("write error %x: %s: %w", off, err, ErrFault)
		}

		buf = buf[n:]
		off += int64(n)
	}

	return nil
}

func (p *Process) Alloc(size int) (Address, error) {
	return 0, fmt.Errorf("cannot allocate in process %d: %w", p.Pid, ErrUnsupported)
}

func (p *Process) Free(addr Address) error {
	return fmt.Errorf("cannot free in process %d: %w", p.Pid, ErrUnsupported)
}

// Regions lists the mappings of the process.
func (p *Process) Regions() ([]Region, error) {
	mapsBuf, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", p.Pid))
	if err != nil {
		return nil, err
	}

	return ParseMaps(string(mapsBuf))
}

func (p *Process) Close() error {
	return p.mem.Close()
}

// vim: ai:ts=8:sw=8:noet:syntax=go
