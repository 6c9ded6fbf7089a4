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

// Package hook manages the lifecycle of individual inline hooks on top of
// an installation primitive such as detour.Engine.
package hook

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"sigdetour/internal/memory"
)

var (
	ErrSubsystem  = errors.New("hooking subsystem is not available")
	ErrNilAddress = errors.New("nil address")
	ErrState      = errors.New("invalid hook state")
	ErrInstall    = errors.New("cannot install hook")
	ErrNotFunc    = errors.New("hook signature is not a func type")
)

// Primitive installs hooks. *detour.Engine implements it.
type Primitive interface {
	Initialize() error
	Uninitialize() error
	Create(target, detour memory.Address) (memory.Address, error)
	Enable(target memory.Address) error
	Disable(target memory.Address) error
	Remove(target memory.Address) error
}

// Subsystem initializes its primitive at most once for all records sharing
// it. The outcome of the first Init, failure included, is kept.
type Subsystem struct {
	prim Primitive
	done atomic.Bool
	mu   sync.Mutex
	err  error
}

func NewSubsystem(prim Primitive) *Subsystem {
	return &Subsystem{prim: prim}
}

func (s *Subsystem) Init() error {
	if s.done.Load() {
		return s.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.done.Load() {
		if err := s.prim.Initialize(); err != nil {
			s.err = fmt.Errorf("%w: %w", ErrSubsystem, err)
		}
		s.done.Store(true)
	}

	return s.err
}

// Uninitialize shuts the primitive down after a successful Init. Any hook
// still installed through it is removed. A later Init starts over.
func (s *Subsystem) Uninitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.done.Load() || s.err != nil {
		return nil
	}

	if err := s.prim.Uninitialize(); err != nil {
		return fmt.Errorf("cannot shut down hooking subsystem: %w", err)
	}

	s.done.Store(false)
	return nil
}

// Ready reports whether Init has run and succeeded.
func (s *Subsystem) Ready() bool {
	return s.done.Load() && s.err == nil
}

func (s *Subsystem) Primitive() Primitive {
	return s.prim
}

// vim: ai:ts=8:sw=8:noet:syntax=go
