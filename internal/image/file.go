package image

import (
	"bytes"
	"fmt"
	"os"

	"github.com/Binject/debug/pe"

	"sigdetour/internal/memory"
)

// File is a PE file from disk laid out the way the loader would map it, so
// that it can be scanned exactly like a live module.
type File struct {
	Path   string
	Module *Module
	Mem    *memory.Buffer
}

func (f *File) IsDLL() bool {
	return f.Module.IsDLL()
}

// Base satisfies Locator for the file itself and nothing else.
func (f *File) Base(name string) (memory.Address, error) {
	if name == "" || name == f.Module.Name {
		return f.Module.Base, nil
	}
	return 0, notFound(name)
}

func OpenFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pf, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %v: %w", path, err, ErrInvalidImage)
	}
	defer pf.Close()

	var image_base uint64
	var image_size, headers_size uint32
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		image_base = uint64(oh.ImageBase)
		image_size = oh.SizeOfImage
		headers_size = oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		image_base = oh.ImageBase
		image_size = oh.SizeOfImage
		headers_size = oh.SizeOfHeaders
	default:
		return nil, fmt.Errorf("%s has no optional header: %w", path, ErrInvalidImage)
	}

	if image_base == 0 || image_size == 0 {
		return nil, fmt.Errorf("%s: bad image layout: %w", path, ErrInvalidImage)
	}
	if uint64(headers_size) > uint64(len(raw)) {
		headers_size = uint32(len(raw))
	}

	mapped := make([]byte, image_size)
	copy(mapped, raw[:headers_size])

	for _, s := range pf.Sections {
		if s.Size == 0 {
			continue
		}

		if s.VirtualAddress >= image_size {
			return nil, fmt.Errorf("%s: section %s is outside of the image: %w", path, s.Name, ErrInvalidImage)
		}

		d, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("cannot read section %s of %s: %w", s.Name, path, err)
		}

		copy(mapped[s.VirtualAddress:], d)
	}

	mem := memory.NewBuffer(memory.Address(image_base), mapped)
	m, err := Parse(mem, mem.Base())
	if err != nil {
		return nil, err
	}
	m.Name = pathBase(path)

	return &File{Path: path, Module: m, Mem: mem}, nil
}

func pathBase(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' && path[i] != '\\' {
		i--
	}
	return path[i+1:]
}

// vim: ai:ts=8:sw=8:noet:syntax=go
