package memory

import (
	"errors"
	"testing"
	"unsafe"
)

var heapData = []byte{1, 2, 3, 4, 5, 6, 7, 8}

func permAt(t *testing.T, addr Address) string {
	regions, err := selfRegions()
	if err != nil {
		t.Fatal(err)
	}

	cover := Covering(regions, addr, 1)
	if cover == nil {
		t.Fatalf("%s is not mapped", addr)
	}
	return cover[0].Perm
}

func TestSelfReadUnmapped(t *testing.T) {
	_, err := NewSelf().Read(0x10, 4)
	if !errors.Is(err, ErrFault) {
		t.Fatalf("expected ErrFault - got %v", err)
	}
}

func TestSelfReadWrite(t *testing.T) {
	data := heapData
	addr := Address(uintptr(unsafe.Pointer(&data[0])))
	s := NewSelf()

	got, err := s.Read(addr, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[3] != 4 {
		t.Fatalf("expected 01 02 03 04 - got % x", got)
	}

	before := permAt(t, addr)
	if err := s.Write(addr+2, []byte{0xAA, 0xBB}); err != nil {
		t.Fatal(err)
	}
	if data[2] != 0xAA || data[3] != 0xBB {
		t.Fatalf("expected the write to land - got % x", data)
	}

	if after := permAt(t, addr); after != before {
		t.Fatalf("expected %s back after the write - got %s", before, after)
	}
}
