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

// Package detour installs inline hooks on x86 and x86-64 code.
//
// Creating a hook copies the first instructions of the target into a
// trampoline, relocating relative branches and RIP-relative operands, and
// appends a jump back to the rest of the target. Enabling it overwrites the
// start of the target with a jump to the detour. The trampoline is how the
// detour calls the original function.
package detour

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/pkg/errors"

	"sigdetour/internal/memory"
)

var (
	ErrNotInitialized      = errors.New("hooking engine is not initialized")
	ErrAlreadyInitialized  = errors.New("hooking engine is already initialized")
	ErrAlreadyCreated      = errors.New("hook for this target already exists")
	ErrNotCreated          = errors.New("hook for this target is not created")
	ErrEnabled             = errors.New("hook is already enabled")
	ErrDisabled            = errors.New("hook is not enabled")
	ErrUnsupportedFunction = errors.New("target function cannot be hooked")
	ErrMemoryAlloc         = errors.New("cannot allocate trampoline")
)

const (
	jmpRelSize = 5  // E9 rel32
	jmpAbsSize = 14 // FF 25 00000000 imm64
	maxInstLen = 15
	maxEmitLen = 16 // the longest relocated form, jcc over an absolute jump
)

type hook struct {
	target     memory.Address
	detour     memory.Address
	trampoline memory.Address
	patch      []byte
	backup     []byte
	enabled    bool
}

type Engine struct {
	mu          sync.Mutex
	mem         memory.Memory
	mode        int
	initialized bool
	hooks       map[memory.Address]*hook
}

// New returns an engine patching mem. mode is the decoder mode, 32 or 64.
func New(mem memory.Memory, mode int) *Engine {
	return &Engine{
		mem:   mem,
		mode:  mode,
		hooks: make(map[memory.Address]*hook),
	}
}

func (e *Engine) Mode() int {
	return e.mode
}

func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}

	if e.mode != 32 && e.mode != 64 {
		return errors.Errorf("unsupported decoder mode %d", e.mode)
	}

	e.initialized = true
	return nil
}

// Uninitialize removes every hook and shuts the engine down.
func (e *Engine) Uninitialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotInitialized
	}

	var first error
	for target := range e.hooks {
		if err := e.remove(target); err != nil && first == nil {
			first = err
		}
	}

	e.initialized = false
	return first
}

// Create builds the trampoline for target and returns its address. The
// target is not modified until Enable.
func (e *Engine) Create(target, detour memory.Address) (memory.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return 0, ErrNotInitialized
	}

	if target.IsNil() || detour.IsNil() {
		return 0, errors.Wrap(ErrUnsupportedFunction, "nil address")
	}

	if _, ok := e.hooks[target]; ok {
		return 0, errors.Wrapf(ErrAlreadyCreated, "%s", target)
	}

	patch := e.jump(target, detour)

	code, err := e.read(target, len(patch)+maxInstLen)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot read %s", target)
	}

	insts, stolen, err := e.steal(target, code, len(patch))
	if err != nil {
		return 0, err
	}

	size := maxEmitLen*len(insts) + jmpAbsSize
	tramp, err := e.mem.Alloc(size)
	if err != nil {
		return 0, errors.Wrapf(ErrMemoryAlloc, "%d bytes: %v", size, err)
	}

	body, err := e.relocate(target, tramp, code[:stolen], insts, len(patch))
	if err != nil {
		e.mem.Free(tramp)
		return 0, err
	}

	if err := e.mem.Write(tramp, body); err != nil {
		e.mem.Free(tramp)
		return 0, errors.Wrapf(err, "cannot write trampoline at %s", tramp)
	}

	backup := make([]byte, len(patch))
	copy(backup, code)

	e.hooks[target] = &hook{
		target:     target,
		detour:     detour,
		trampoline: tramp,
		patch:      patch,
		backup:     backup,
	}

	return tramp, nil
}

func (e *Engine) Enable(target memory.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(target)
	if err != nil {
		return err
	}

	if h.enabled {
		return errors.Wrapf(ErrEnabled, "%s", target)
	}

	if err := e.mem.Write(target, h.patch); err != nil {
		return errors.Wrapf(err, "cannot patch %s", target)
	}

	h.enabled = true
	return nil
}

func (e *Engine) Disable(target memory.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(target)
	if err != nil {
		return err
	}

	if !h.enabled {
		return errors.Wrapf(ErrDisabled, "%s", target)
	}

	if err := e.mem.Write(target, h.backup); err != nil {
		return errors.Wrapf(err, "cannot restore %s", target)
	}

	h.enabled = false
	return nil
}

// Remove restores the target if the hook is enabled and frees the
// trampoline.
func (e *Engine) Remove(target memory.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.lookup(target); err != nil {
		return err
	}

	return e.remove(target)
}

func (e *Engine) remove(target memory.Address) error {
	h := e.hooks[target]

	if h.enabled {
		if err := e.mem.Write(target, h.backup); err != nil {
			return errors.Wrapf(err, "cannot restore %s", target)
		}
		h.enabled = false
	}

	if err := e.mem.Free(h.trampoline); err != nil {
		return errors.Wrapf(err, "cannot free trampoline of %s", target)
	}

	delete(e.hooks, target)
	return nil
}

func (e *Engine) Enabled(target memory.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.hooks[target]
	return ok && h.enabled
}

func (e *Engine) lookup(target memory.Address) (*hook, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}

	h, ok := e.hooks[target]
	if !ok {
		return nil, errors.Wrapf(ErrNotCreated, "%s", target)
	}

	return h, nil
}

// read returns up to size bytes at addr, fewer if the tail is unreadable.
func (e *Engine) read(addr memory.Address, size int) ([]byte, error) {
	var err error
	for n := size; n > 0; n-- {
		var buf []byte
		buf, err = e.mem.Read(addr, n)
		if err == nil {
			return buf, nil
		}
	}
	return nil, err
}

func fitsRel32(next, dest memory.Address) bool {
	d := int64(dest) - int64(next)
	return d >= math.MinInt32 && d <= math.MaxInt32
}

func putRel32(buf []byte, next, dest memory.Address) {
	binary.LittleEndian.PutUint32(buf, uint32(int32(int64(dest)-int64(next))))
}

// jump encodes a jump placed at `at` to dest.
func (e *Engine) jump(at, dest memory.Address) []byte {
	if e.mode == 32 || fitsRel32(at+jmpRelSize, dest) {
		b := []byte{0xE9, 0, 0, 0, 0}
		putRel32(b[1:], at+jmpRelSize, dest)
		return b
	}
	return jmpAbs(dest)
}

func jmpAbs(dest memory.Address) []byte {
	b := []byte{0xFF, 0x25, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(b[6:], uint64(dest))
	return b
}

func callAbs(dest memory.Address) []byte {
	b := []byte{0xFF, 0x15, 0x02, 0, 0, 0, 0xEB, 0x08, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(b[8:], uint64(dest))
	return b
}

// vim: ai:ts=8:sw=8:noet:syntax=go
