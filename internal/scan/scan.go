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

// Package scan searches memory for compiled patterns.
package scan

import (
	"errors"
	"fmt"

	"sigdetour/internal/image"
	"sigdetour/internal/memory"
	"sigdetour/internal/pattern"
)

var ErrNotFound = errors.New("not found")

// chunkSize is how much memory is read at once.
const chunkSize = 16 * memory.PageSize

// Index returns the offset of the first match of p in buf, or -1.
func Index(buf []byte, p pattern.Pattern) int {
	if p.Empty() {
		return -1
	}

	for i := 0; i+p.Len() <= len(buf); i++ {
		if p.MatchAt(buf, i) {
			return i
		}
	}

	return -1
}

// IndexAll returns the offsets of up to limit matches (all if limit <= 0).
func IndexAll(buf []byte, p pattern.Pattern, limit int) []int {
	var res []int
	if p.Empty() {
		return res
	}

	for i := 0; i+p.Len() <= len(buf); i++ {
		if p.MatchAt(buf, i) {
			res = append(res, i)
			if limit > 0 && len(res) >= limit {
				break
			}
		}
	}

	return res
}

// Find returns the lowest address in rng where p matches. A read fault is
// an error of its own, not ErrNotFound.
func Find(r memory.Reader, rng memory.Range, p pattern.Pattern) (memory.Address, error) {
	if !rng.Valid() || p.Empty() {
		return 0, ErrNotFound
	}

	overlap := uintptr(p.Len() - 1)
	for off := uintptr(0); off < rng.Size; {
		n := rng.Size - off
		if n > chunkSize+overlap {
			n = chunkSize + overlap
		}

		if n < uintptr(p.Len()) {
			break
		}

		buf, err := r.Read(rng.Base+memory.Address(off), int(n))
		if err != nil {
			return 0, fmt.Errorf("cannot scan %s: %w", rng, err)
		}

		if i := Index(buf, p); i >= 0 {
			return rng.Base + memory.Address(off) + memory.Address(i), nil
		}

		if n <= overlap {
			break
		}
		off += n - overlap
	}

	return 0, ErrNotFound
}

// FindInRegions scans readable regions matching perm (see
// memory.Region.MatchPerm) in order and returns the first hit. Regions that
// fail to read are skipped.
func FindInRegions(r memory.Reader, regions []memory.Region, perm string, p pattern.Pattern) (memory.Address, error) {
	for _, region := range regions {
		if !region.Readable() || !region.MatchPerm(perm) {
			continue
		}

		addr, err := Find(r, region.Range, p)
		if err == nil {
			return addr, nil
		}
	}

	return 0, ErrNotFound
}

// Scanner finds patterns in the code section of loaded modules.
type Scanner struct {
	Mem     memory.Reader
	Modules image.Locator
}

// Module scans the whole code section of the named module. The empty name is
// the main executable.
func (s *Scanner) Module(name string, p pattern.Pattern) (memory.Address, error) {
	m, err := s.locate(name, p)
	if err != nil {
		return 0, err
	}

	return Find(s.Mem, m.Code(), p)
}

// ModuleSize scans size bytes from the start of the code section.
func (s *Scanner) ModuleSize(name string, size uintptr, p pattern.Pattern) (memory.Address, error) {
	m, err := s.locate(name, p)
	if err != nil {
		return 0, err
	}

	return Find(s.Mem, memory.Range{Base: m.Code().Base, Size: size}, p)
}

func (s *Scanner) locate(name string, p pattern.Pattern) (*image.Module, error) {
	if p.Empty() {
		return nil, ErrNotFound
	}

	m, err := image.Locate(s.Modules, s.Mem, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return m, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
