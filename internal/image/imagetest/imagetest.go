// Package imagetest builds small synthetic PE images for tests.
package imagetest

import (
	"encoding/binary"
)

const (
	CodeRVA     = 0x1000
	HeadersSize = 0x200

	lfanew     = 0x40
	optSize32  = 224
	optSize64  = 240
	sectionHdr = 40
)

// PE describes an image with a single .text section holding Code.
type PE struct {
	Is64      bool
	DLL       bool
	ImageBase uint64
	Code      []byte
}

func align(a, b int) int {
	return (a + b - 1) &^ (b - 1)
}

func (p PE) rawSize() int {
	n := align(len(p.Code), 0x200)
	if n == 0 {
		n = 0x200
	}
	return n
}

func (p PE) imageSize() int {
	n := align(len(p.Code), 0x1000)
	if n == 0 {
		n = 0x1000
	}
	return CodeRVA + n
}

// Headers returns the DOS, NT and section headers padded to HeadersSize.
func (p PE) Headers() []byte {
	le := binary.LittleEndian
	h := make([]byte, HeadersSize)

	h[0], h[1] = 'M', 'Z'
	le.PutUint32(h[0x3C:], lfanew)

	copy(h[lfanew:], "PE\x00\x00")
	fh := h[lfanew+4:]
	machine, optSize, characteristics := uint16(0x14c), optSize32, uint16(0x0102)
	if p.Is64 {
		machine, optSize, characteristics = 0x8664, optSize64, 0x0022
	}
	if p.DLL {
		characteristics |= 0x2000
	}
	le.PutUint16(fh[0:], machine)
	le.PutUint16(fh[2:], 1)
	le.PutUint16(fh[16:], uint16(optSize))
	le.PutUint16(fh[18:], characteristics)

	opt := fh[20:]
	le.PutUint32(opt[4:], uint32(p.rawSize()))
	le.PutUint32(opt[16:], CodeRVA)
	le.PutUint32(opt[20:], CodeRVA)
	le.PutUint32(opt[32:], 0x1000)
	le.PutUint32(opt[36:], 0x200)
	le.PutUint16(opt[40:], 4)
	le.PutUint16(opt[48:], 4)
	le.PutUint32(opt[56:], uint32(p.imageSize()))
	le.PutUint32(opt[60:], HeadersSize)
	le.PutUint16(opt[68:], 3)
	if p.Is64 {
		le.PutUint16(opt[0:], 0x20b)
		le.PutUint64(opt[24:], p.ImageBase)
		le.PutUint32(opt[108:], 16)
	} else {
		le.PutUint16(opt[0:], 0x10b)
		le.PutUint32(opt[28:], uint32(p.ImageBase))
		le.PutUint32(opt[92:], 16)
	}

	sh := opt[optSize:]
	copy(sh, ".text")
	le.PutUint32(sh[8:], uint32(len(p.Code)))
	le.PutUint32(sh[12:], CodeRVA)
	le.PutUint32(sh[16:], uint32(p.rawSize()))
	le.PutUint32(sh[20:], HeadersSize)
	le.PutUint32(sh[36:], 0x60000020) // code, execute, read

	return h
}

// File returns the on-disk layout.
func (p PE) File() []byte {
	out := make([]byte, HeadersSize+p.rawSize())
	copy(out, p.Headers())
	copy(out[HeadersSize:], p.Code)
	return out
}

// Mapped returns the layout the loader would produce at ImageBase.
func (p PE) Mapped() []byte {
	out := make([]byte, p.imageSize())
	copy(out, p.Headers())
	copy(out[CodeRVA:], p.Code)
	return out
}
