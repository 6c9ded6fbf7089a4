package image

import (
	"os"
	"path/filepath"
	"strings"

	"sigdetour/internal/memory"
)

// Static is a fixed name to base mapping. Names are matched without regard
// to case.
type Static map[string]memory.Address

func (s Static) Base(name string) (memory.Address, error) {
	if base, ok := s[name]; ok {
		return base, nil
	}

	for k, base := range s {
		if strings.EqualFold(k, name) {
			return base, nil
		}
	}

	return 0, notFound(name)
}

// Maps locates modules through a /proc/<pid>/maps listing. This is how PE
// modules are found when the process runs under Wine.
type Maps struct {
	Path string // maps file
	Exe  string // main executable path, matched for the empty name
}

func (m Maps) Base(name string) (memory.Address, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return 0, err
	}

	regions, err := memory.ParseMaps(string(data))
	if err != nil {
		return 0, err
	}

	return BaseInRegions(regions, name, m.Exe)
}

// BaseInRegions returns the lowest mapping of the file called name, or of
// exe when name is empty.
func BaseInRegions(regions []memory.Region, name, exe string) (memory.Address, error) {
	var base memory.Address

	for _, r := range regions {
		if r.Path == "" || r.Path[0] == '[' {
			continue
		}

		switch {
		case name == "" && exe != "" && r.Path == exe:
		case name != "" && strings.EqualFold(filepath.Base(r.Path), name):
		default:
			continue
		}

		if base == 0 || r.Base < base {
			base = r.Base
		}
	}

	if base == 0 {
		return 0, notFound(name)
	}

	return base, nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
