package image

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sigdetour/internal/image/imagetest"
	"sigdetour/internal/memory"
)

func TestParse(t *testing.T) {
	for _, is64 := range []bool{false, true} {
		pe := imagetest.PE{Is64: is64, ImageBase: 0x400000, Code: make([]byte, 0x300)}
		mem := memory.NewBuffer(0x400000, pe.Mapped())

		m, err := Parse(mem, 0x400000)
		if err != nil {
			t.Fatal(err)
		}

		if m.Is64 != is64 {
			t.Fatalf("expected Is64=%v", is64)
		}
		if m.CodeOffset != imagetest.CodeRVA || m.CodeSize != 0x400 {
			t.Fatalf("unexpected code section %x+%x", m.CodeOffset, m.CodeSize)
		}
		if m.Code().Base != 0x401000 {
			t.Fatalf("expected code at 0x401000 - got %s", m.Code().Base)
		}
		if m.ImageSize != 0x2000 {
			t.Fatalf("expected image size 0x2000 - got 0x%x", m.ImageSize)
		}
		if m.IsDLL() {
			t.Fatal("executable reported as DLL")
		}
	}
}

func TestParseRejectsBadHeaders(t *testing.T) {
	corrupt := map[string]func([]byte){
		"dos magic":       func(b []byte) { b[0] = 'X' },
		"negative lfanew": func(b []byte) { binary.LittleEndian.PutUint32(b[0x3C:], 0xFFFFFFF0) },
		"nt signature":    func(b []byte) { b[0x40] = 'X' },
		"no optional":     func(b []byte) { binary.LittleEndian.PutUint16(b[0x40+4+16:], 0) },
		"opt magic":       func(b []byte) { binary.LittleEndian.PutUint16(b[0x58:], 0x107) },
		"lfanew past end": func(b []byte) { binary.LittleEndian.PutUint32(b[0x3C:], 0x100000) },
	}

	for name, f := range corrupt {
		data := imagetest.PE{ImageBase: 0x400000, Code: []byte{0xC3}}.Mapped()
		f(data)

		_, err := Parse(memory.NewBuffer(0x400000, data), 0x400000)
		if !errors.Is(err, ErrInvalidImage) {
			t.Fatalf("%s: expected ErrInvalidImage - got %v", name, err)
		}
	}

	_, err := Parse(memory.NewBuffer(0x400000, nil), 0)
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("nil base: expected ErrInvalidImage - got %v", err)
	}
}

func TestLocate(t *testing.T) {
	pe := imagetest.PE{DLL: true, ImageBase: 0x10000000, Code: []byte{0xC3}}
	mem := memory.NewBuffer(0x10000000, pe.Mapped())
	loc := Static{"Game.dll": 0x10000000}

	m, err := Locate(loc, mem, "game.DLL")
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "game.DLL" || !m.IsDLL() {
		t.Fatalf("unexpected module %+v", m)
	}

	_, err = Locate(loc, mem, "")
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound - got %v", err)
	}
}

func TestBaseInRegions(t *testing.T) {
	regions, err := memory.ParseMaps(`00400000-00401000 r--p 00000000 08:02 1 /games/Game.exe
00401000-00452000 r-xp 00001000 08:02 1 /games/Game.exe
10000000-10001000 r--p 00000000 08:02 2 /games/lib/Input.dll
7ffd3e5d7000-7ffd3e5f8000 rw-p 00000000 00:00 0 [stack]
`)
	if err != nil {
		t.Fatal(err)
	}

	base, err := BaseInRegions(regions, "", "/games/Game.exe")
	if err != nil {
		t.Fatal(err)
	}
	if base != 0x400000 {
		t.Fatalf("expected 0x400000 - got %s", base)
	}

	base, err = BaseInRegions(regions, "input.dll", "")
	if err != nil {
		t.Fatal(err)
	}
	if base != 0x10000000 {
		t.Fatalf("expected 0x10000000 - got %s", base)
	}

	for _, name := range []string{"missing.dll", "[stack]"} {
		_, err = BaseInRegions(regions, name, "")
		if !errors.Is(err, ErrModuleNotFound) {
			t.Fatalf("%s: expected ErrModuleNotFound - got %v", name, err)
		}
	}
}

func TestOpenFile(t *testing.T) {
	code := []byte{0x55, 0x8B, 0xEC, 0xB8, 0x01, 0x00, 0x00, 0x00, 0x5D, 0xC3}
	pe := imagetest.PE{DLL: true, ImageBase: 0x10000000, Code: code}

	path := filepath.Join(t.TempDir(), "input.dll")
	if err := os.WriteFile(path, pe.File(), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !f.IsDLL() {
		t.Fatal("expected a DLL")
	}
	if f.Module.Name != "input.dll" {
		t.Fatalf("unexpected module name %q", f.Module.Name)
	}

	got, err := f.Mem.Read(f.Module.Code().Base, len(code))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(code) {
		t.Fatalf("expected code to be mapped at its RVA - got 0x%x", got)
	}

	base, err := f.Base("")
	if err != nil || base != 0x10000000 {
		t.Fatalf("expected base 0x10000000 - got %s (%v)", base, err)
	}
}

func TestOpenFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.dll")
	if err := os.WriteFile(path, []byte("not a PE file at all"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenFile(path); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCodeWithoutBaseOfCode(t *testing.T) {
	m := &Module{Base: 0x400000, CodeOffset: 0, CodeSize: 0x200}
	if code := m.Code(); code.Valid() {
		t.Fatalf("expected an invalid code range - got %s", code)
	}

	m.CodeOffset = 0x1000
	if code := m.Code(); code.Base != 0x401000 || code.Size != 0x200 {
		t.Fatalf("expected 0x401000+0x200 - got %s", code)
	}
}
