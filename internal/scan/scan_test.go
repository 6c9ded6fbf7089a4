package scan

import (
	"errors"
	"testing"

	"sigdetour/internal/image"
	"sigdetour/internal/image/imagetest"
	"sigdetour/internal/memory"
	"sigdetour/internal/pattern"
)

func TestIndexFirstMatchWins(t *testing.T) {
	buf := []byte{0x00, 0xAA, 0x01, 0xBB, 0xAA, 0x02, 0xBB}
	p := pattern.Compile("AA ? BB")

	if i := Index(buf, p); i != 1 {
		t.Fatalf("expected 1 - got %d", i)
	}

	all := IndexAll(buf, p, 0)
	if len(all) != 2 || all[0] != 1 || all[1] != 4 {
		t.Fatalf("expected [1 4] - got %v", all)
	}

	if one := IndexAll(buf, p, 1); len(one) != 1 {
		t.Fatalf("expected one match with limit 1 - got %v", one)
	}
}

func TestIndexAbsent(t *testing.T) {
	if i := Index([]byte{0xAA}, pattern.Compile("AA BB")); i != -1 {
		t.Fatalf("expected -1 - got %d", i)
	}
	if i := Index([]byte{0xAA}, pattern.Pattern{}); i != -1 {
		t.Fatalf("expected -1 for the empty pattern - got %d", i)
	}
}

func TestFindEmptyInputs(t *testing.T) {
	mem := memory.NewBuffer(0x1000, make([]byte, 16))
	p := pattern.Compile("00")

	for _, rng := range []memory.Range{
		{Base: 0, Size: 16},
		{Base: 0x1000, Size: 0},
	} {
		_, err := Find(mem, rng, p)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for %s - got %v", rng, err)
		}
	}

	_, err := Find(mem, mem.Range(), pattern.Compile("ZZ"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a malformed pattern - got %v", err)
	}
}

func TestFindSignature(t *testing.T) {
	data := make([]byte, 64)
	copy(data[10:], []byte{0xB8, 0x11, 0x22, 0x33, 0x44, 0x8D, 0x9B})

	mem := memory.NewBuffer(0x5000, data)
	addr, err := Find(mem, mem.Range(), pattern.Compile("B8 ?? ?? ?? ?? 8D 9B"))
	if err != nil {
		t.Fatal(err)
	}

	if addr != 0x5000+10 {
		t.Fatalf("expected %s - got %s", memory.Address(0x500A), addr)
	}

	// the wildcard bytes do not matter
	other := make([]byte, 64)
	copy(other[10:], []byte{0xB8, 0x11, 0x99, 0x77, 0x44, 0x8D, 0x9B})

	mem = memory.NewBuffer(0x5000, other)
	addr, err = Find(mem, mem.Range(), pattern.Compile("B8 ?? ?? ?? ?? 8D 9B"))
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x5000+10 {
		t.Fatalf("expected the same hit with other wildcard bytes - got %s", addr)
	}
}

func TestFindAcrossChunks(t *testing.T) {
	data := make([]byte, 3*chunkSize)
	at := 2*chunkSize + 1
	copy(data[at:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	mem := memory.NewBuffer(0x10000, data)
	addr, err := Find(mem, mem.Range(), pattern.Compile("DE AD BE EF"))
	if err != nil {
		t.Fatal(err)
	}

	if addr != memory.Address(0x10000+at) {
		t.Fatalf("expected match straddling a chunk boundary at 0x%x - got %s", 0x10000+at, addr)
	}

	_, err = Find(mem, mem.Range(), pattern.Compile("DE AD BE EE"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound - got %v", err)
	}
}

func TestFindReadFault(t *testing.T) {
	mem := memory.NewBuffer(0x1000, make([]byte, 16))

	_, err := Find(mem, memory.Range{Base: 0x1000, Size: 64}, pattern.Compile("AA"))
	if !errors.Is(err, memory.ErrFault) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a fault - got %v", err)
	}
}

func TestFindInRegions(t *testing.T) {
	data := make([]byte, 0x30)
	data[0x05] = 0xAA
	data[0x25] = 0xAA
	mem := memory.NewBuffer(0x1000, data)

	regions := []memory.Region{
		{Range: memory.Range{Base: 0x1000, Size: 0x10}, Perm: "rw-p"},
		{Range: memory.Range{Base: 0x1010, Size: 0x10}, Perm: "---p"},
		{Range: memory.Range{Base: 0x1020, Size: 0x10}, Perm: "r-xp"},
	}

	addr, err := FindInRegions(mem, regions, "--x", pattern.Compile("AA"))
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x1025 {
		t.Fatalf("expected 0x1025 - got %s", addr)
	}

	_, err = FindInRegions(mem, regions, "--x", pattern.Compile("BB"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound - got %v", err)
	}
}

func newScanner(code []byte) (*Scanner, *image.Module) {
	pe := imagetest.PE{ImageBase: 0x400000, Code: code}
	mem := memory.NewBuffer(0x400000, pe.Mapped())
	s := &Scanner{Mem: mem, Modules: image.Static{"": 0x400000, "game.exe": 0x400000}}
	m, _ := image.Parse(mem, 0x400000)
	return s, m
}

func TestScannerModule(t *testing.T) {
	code := make([]byte, 0x100)
	copy(code[0x40:], []byte{0xE8, 0x64, 0x00, 0x00, 0x00, 0xB8, 0x01, 0x02, 0x03, 0x04, 0x8B, 0xFF})
	s, m := newScanner(code)

	for _, name := range []string{"", "Game.exe"} {
		addr, err := s.Module(name, pattern.Compile("E8 ? ? ? ? B8 ? ? ? ? 8B FF"))
		if err != nil {
			t.Fatal(err)
		}
		if addr != m.Code().Base+0x40 {
			t.Fatalf("expected %s - got %s", m.Code().Base+0x40, addr)
		}
	}

	_, err := s.ModuleSize("", 0x40, pattern.Compile("E8 ? ? ? ? B8"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a size-limited scan to miss - got %v", err)
	}

	addr, err := s.ModuleSize("", 0x46, pattern.Compile("E8 ? ? ? ? B8"))
	if err != nil {
		t.Fatal(err)
	}
	if addr != m.Code().Base+0x40 {
		t.Fatalf("expected %s - got %s", m.Code().Base+0x40, addr)
	}
}

func TestScannerModuleReadFault(t *testing.T) {
	pe := imagetest.PE{ImageBase: 0x400000, Code: []byte{0xC3}}
	mapped := pe.Mapped()

	// the headers promise more code than is mapped
	s := &Scanner{
		Mem:     memory.NewBuffer(0x400000, mapped[:imagetest.CodeRVA+0x10]),
		Modules: image.Static{"": 0x400000},
	}

	_, err := s.Module("", pattern.Compile("90 90"))
	if !errors.Is(err, memory.ErrFault) {
		t.Fatalf("expected ErrFault - got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a fault not to read as ErrNotFound - got %v", err)
	}
}

func TestScannerModuleNotFound(t *testing.T) {
	s, _ := newScanner([]byte{0xC3})

	_, err := s.Module("missing.dll", pattern.Compile("C3"))
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, image.ErrModuleNotFound) {
		t.Fatalf("expected ErrNotFound wrapping ErrModuleNotFound - got %v", err)
	}

	bad := &Scanner{
		Mem:     memory.NewBuffer(0x400000, make([]byte, 0x1000)),
		Modules: image.Static{"": 0x400000},
	}
	_, err = bad.Module("", pattern.Compile("C3"))
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, image.ErrInvalidImage) {
		t.Fatalf("expected ErrNotFound wrapping ErrInvalidImage - got %v", err)
	}

	_, err = s.Module("", pattern.Pattern{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for the empty pattern - got %v", err)
	}
}
