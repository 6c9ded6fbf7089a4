package memory

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferReadWrite(t *testing.T) {
	buf := NewBuffer(0x1000, []byte{0x00, 0x11, 0x22, 0x33, 0x44})

	data, err := buf.Read(0x1001, 3)
	if err != nil {
		t.Fatal(err)
	}

	exp := []byte{0x11, 0x22, 0x33}
	if !bytes.Equal(data, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, data)
	}

	err = buf.Write(0x1003, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatal(err)
	}

	data, _ = buf.Read(0x1000, 5)
	exp = []byte{0x00, 0x11, 0x22, 0xAA, 0xBB}
	if !bytes.Equal(data, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, data)
	}
}

func TestBufferOutOfBounds(t *testing.T) {
	buf := NewBuffer(0x1000, make([]byte, 4))

	for _, c := range []struct {
		addr Address
		size int
	}{
		{0xFFF, 1},
		{0x1003, 2},
		{0x2000, 1},
		{0x1000, -1},
	} {
		_, err := buf.Read(c.addr, c.size)
		if !errors.Is(err, ErrFault) {
			t.Fatalf("expected fault reading %d bytes at %s - got %v", c.size, c.addr, err)
		}
	}

	if err := buf.Write(0x1002, []byte{1, 2, 3}); !errors.Is(err, ErrFault) {
		t.Fatalf("expected fault - got %v", err)
	}
}

func TestBufferAllocFree(t *testing.T) {
	buf := NewBuffer(0x400000, make([]byte, 10))

	addr, err := buf.Alloc(20)
	if err != nil {
		t.Fatal(err)
	}

	if addr != 0x400010 {
		t.Fatalf("expected allocation at 0x400010 - got %s", addr)
	}

	if !buf.Allocated(addr) {
		t.Fatalf("expected %s to be allocated", addr)
	}

	data, err := buf.Read(addr, 20)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{0xCC}, 20)) {
		t.Fatalf("expected fresh allocation to be filled with int3 - got 0x%x", data)
	}

	second, err := buf.Alloc(1)
	if err != nil {
		t.Fatal(err)
	}
	if second <= addr {
		t.Fatalf("expected second allocation after %s - got %s", addr, second)
	}

	if err := buf.Free(addr); err != nil {
		t.Fatal(err)
	}
	if err := buf.Free(addr); !errors.Is(err, ErrFault) {
		t.Fatalf("expected double free to fault - got %v", err)
	}
}

func TestReadPtr(t *testing.T) {
	buf := NewBuffer(0x1000, []byte{0xEF, 0xBE, 0xAD, 0xDE, 0x01, 0x00, 0x00, 0x00})

	p32, err := ReadPtr(buf, 0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if p32 != 0xDEADBEEF {
		t.Fatalf("expected 0xDEADBEEF - got %s", p32)
	}

	p64, err := ReadPtr(buf, 0x1000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(p64) != 0x1DEADBEEF {
		t.Fatalf("expected 0x1DEADBEEF - got %s", p64)
	}

	s32, err := ReadS32(NewBuffer(0x10, []byte{0xFC, 0xFF, 0xFF, 0xFF}), 0x10)
	if err != nil {
		t.Fatal(err)
	}
	if s32 != -4 {
		t.Fatalf("expected -4 - got %d", s32)
	}

	if _, err := ReadPtr(buf, 0x1000, 3); err == nil {
		t.Fatal("expected an error for a 3-byte pointer")
	}
}

func TestAddressAdd(t *testing.T) {
	a := Address(0x1000)
	if a.Add(-4) != 0xFFC {
		t.Fatalf("expected 0xFFC - got %s", a.Add(-4))
	}
	if a.Add(0x10) != 0x1010 {
		t.Fatalf("expected 0x1010 - got %s", a.Add(0x10))
	}
	if a.String() != "0x1000" {
		t.Fatalf("expected 0x1000 - got %s", a.String())
	}
}

func TestRangeValid(t *testing.T) {
	if (Range{Base: 0, Size: 10}).Valid() {
		t.Fatal("range with a nil base must be invalid")
	}
	if (Range{Base: 0x10, Size: 0}).Valid() {
		t.Fatal("empty range must be invalid")
	}

	r := Range{Base: 0x10, Size: 0x10}
	if !r.Valid() || !r.Contains(0x1F) || r.Contains(0x20) {
		t.Fatalf("unexpected range semantics for %s", r)
	}
}

func TestAlign(t *testing.T) {
	if Align(1, 16) != 16 || Align(16, 16) != 16 || Align(0, 16) != 0 {
		t.Fatal("unexpected alignment")
	}
	if Align(uintptr(4097), uintptr(PageSize)) != 8192 {
		t.Fatal("unexpected page alignment")
	}
}
