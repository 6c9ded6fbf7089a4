//go:build !linux && !windows
// +build !linux,!windows

package memory

import "fmt"

type Process struct {
	Pid int
}

func OpenProcess(pid int) (*Process, error) {
	return nil, fmt.Errorf("cannot open process %d: %w", pid, ErrUnsupported)
}

func (p *Process) Read(addr Address, size int) ([]byte, error) {
	return nil, ErrUnsupported
}

func (p *Process) Write(addr Address, buf []byte) error {
	return ErrUnsupported
}

func (p *Process) Alloc(size int) (Address, error) {
	return 0, ErrUnsupported
}

func (p *Process) Free(addr Address) error {
	return ErrUnsupported
}

func (p *Process) Regions() ([]Region, error) {
	return nil, ErrUnsupported
}

func (p *Process) Close() error {
	return nil
}
