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
	"strconv"
	"strings"
)

// Region is one mapping of an address space. Perm uses the /proc/<pid>/maps
// notation ("r-xp").
type Region struct {
	Range
	Perm   string
	Offset uint64
	Path   string
}

func (r Region) Readable() bool {
	return len(r.Perm) > 0 && r.Perm[0] == 'r'
}

func (r Region) Executable() bool {
	return len(r.Perm) > 2 && r.Perm[2] == 'x'
}

func (r Region) Writable() bool {
	return len(r.Perm) > 1 && r.Perm[1] == 'w'
}

// MatchPerm reports whether the region permissions match filter, where '-'
// in the filter means "don't care".
func (r Region) MatchPerm(filter string) bool {
	for i, c := range filter {
		if c == '-' {
			continue
		}

		if i >= len(r.Perm) || c != rune(r.Perm[i]) {
			return false
		}
	}

	return true
}

// ParseMaps parses the contents of a /proc/<pid>/maps file.
func ParseMaps(maps string) ([]Region, error) {
	var regions []Region

	for _, line := range strings.Split(maps, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		flds := strings.Fields(line)
		if len(flds) < 5 {
			continue
		}

		var map_from, map_to uintptr
		_, err := fmt.Sscanf(flds[0], "%x-%x", &map_from, &map_to)
		if err != nil {
			return nil, fmt.Errorf("cannot parse mapping %q: %w", flds[0], err)
		}

		offset, err := strconv.ParseUint(flds[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse offset %q: %w", flds[2], err)
		}

		region := Region{
			Range:  Range{Base: Address(map_from), Size: map_to - map_from},
			Perm:   flds[1],
			Offset: offset,
		}
		if len(flds) > 5 {
			region.Path = strings.Join(flds[5:], " ")
		}

		regions = append(regions, region)
	}

	return regions, nil
}

// Covering returns the regions spanning size bytes at addr, or nil when
// part of that range is not mapped. regions must be sorted by address, as
// ParseMaps returns them.
func Covering(regions []Region, addr Address, size int) []Region {
	end := addr + Address(size)
	if size <= 0 || end < addr {
		return nil
	}

	var out []Region
	cur := addr
	for _, r := range regions {
		if cur >= end {
			break
		}
		if r.End() <= cur {
			continue
		}
		if r.Base > cur {
			return nil
		}

		out = append(out, r)
		cur = r.End()
	}

	if cur < end {
		return nil
	}
	return out
}

// vim: ai:ts=8:sw=8:noet:syntax=go
