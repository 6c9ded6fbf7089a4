package detour

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"sigdetour/internal/memory"
)

const (
	codeBase   = memory.Address(0x400000)
	detourAddr = memory.Address(0x400100)
)

func rel32At(b []byte, next memory.Address) memory.Address {
	return next.Add(int64(int32(binary.LittleEndian.Uint32(b))))
}

func newEngine(t *testing.T, mode int, code []byte) (*Engine, *memory.Buffer) {
	data := make([]byte, 0x200)
	for i := range data {
		data[i] = 0xCC
	}
	copy(data, code)

	buf := memory.NewBuffer(codeBase, data)
	e := New(buf, mode)
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	return e, buf
}

func TestLifecycle(t *testing.T) {
	prologue := []byte{
		0x55,             // push ebp
		0x8B, 0xEC,       // mov ebp, esp
		0x83, 0xEC, 0x10, // sub esp, 0x10
		0xC3, // ret
	}

	for _, mode := range []int{32, 64} {
		e, buf := newEngine(t, mode, prologue)

		tramp, err := e.Create(codeBase, detourAddr)
		if err != nil {
			t.Fatal(err)
		}

		body, _ := buf.Read(tramp, 6+jmpRelSize)
		if !bytes.Equal(body[:6], prologue[:6]) {
			t.Fatalf("expected stolen instructions to be copied - got 0x%x", body[:6])
		}
		if body[6] != 0xE9 || rel32At(body[7:], tramp+6+jmpRelSize) != codeBase+6 {
			t.Fatalf("expected a jump back to %s - got 0x%x", codeBase+6, body[6:])
		}

		if e.Enabled(codeBase) {
			t.Fatal("hook must not be enabled by Create")
		}
		if got, _ := buf.Read(codeBase, 6); !bytes.Equal(got, prologue[:6]) {
			t.Fatal("Create must not modify the target")
		}

		if err := e.Enable(codeBase); err != nil {
			t.Fatal(err)
		}
		patched, _ := buf.Read(codeBase, jmpRelSize)
		if patched[0] != 0xE9 || rel32At(patched[1:], codeBase+jmpRelSize) != detourAddr {
			t.Fatalf("expected a jump to the detour - got 0x%x", patched)
		}

		if err := e.Enable(codeBase); !errors.Is(err, ErrEnabled) {
			t.Fatalf("expected ErrEnabled - got %v", err)
		}

		if err := e.Disable(codeBase); err != nil {
			t.Fatal(err)
		}
		if got, _ := buf.Read(codeBase, 6); !bytes.Equal(got, prologue[:6]) {
			t.Fatalf("expected the target to be restored - got 0x%x", got)
		}
		if err := e.Disable(codeBase); !errors.Is(err, ErrDisabled) {
			t.Fatalf("expected ErrDisabled - got %v", err)
		}

		if err := e.Enable(codeBase); err != nil {
			t.Fatal(err)
		}
		if err := e.Remove(codeBase); err != nil {
			t.Fatal(err)
		}
		if got, _ := buf.Read(codeBase, 6); !bytes.Equal(got, prologue[:6]) {
			t.Fatalf("expected Remove to restore the target - got 0x%x", got)
		}
		if buf.Allocated(tramp) {
			t.Fatal("expected the trampoline to be freed")
		}
		if err := e.Remove(codeBase); !errors.Is(err, ErrNotCreated) {
			t.Fatalf("expected ErrNotCreated - got %v", err)
		}
	}
}

func TestInitialization(t *testing.T) {
	e := New(memory.NewBuffer(codeBase, make([]byte, 16)), 32)

	if _, err := e.Create(codeBase, detourAddr); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized - got %v", err)
	}
	if err := e.Enable(codeBase); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized - got %v", err)
	}
	if err := e.Uninitialize(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized - got %v", err)
	}

	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := e.Initialize(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized - got %v", err)
	}

	if err := New(nil, 16).Initialize(); err == nil {
		t.Fatal("expected 16-bit mode to be rejected")
	}
}

func TestUninitializeRemovesHooks(t *testing.T) {
	e, buf := newEngine(t, 32, []byte{0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x10})

	if _, err := e.Create(codeBase, detourAddr); err != nil {
		t.Fatal(err)
	}
	if err := e.Enable(codeBase); err != nil {
		t.Fatal(err)
	}

	if err := e.Uninitialize(); err != nil {
		t.Fatal(err)
	}

	if got, _ := buf.Read(codeBase, 1); got[0] != 0x55 {
		t.Fatalf("expected the target to be restored - got 0x%x", got)
	}
	if len(e.hooks) != 0 {
		t.Fatalf("expected no hooks after Uninitialize - got %d", len(e.hooks))
	}
}

func TestCreateTwice(t *testing.T) {
	e, _ := newEngine(t, 32, []byte{0x55, 0x8B, 0xEC, 0x83, 0xEC, 0x10})

	if _, err := e.Create(codeBase, detourAddr); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Create(codeBase, detourAddr+0x10); !errors.Is(err, ErrAlreadyCreated) {
		t.Fatalf("expected ErrAlreadyCreated - got %v", err)
	}
}

func TestRelocateCall(t *testing.T) {
	// call 0x400200
	e, buf := newEngine(t, 32, []byte{0xE8, 0xFB, 0x01, 0x00, 0x00, 0xC3})

	tramp, err := e.Create(codeBase, detourAddr)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := buf.Read(tramp, 5)
	if body[0] != 0xE8 || rel32At(body[1:], tramp+5) != 0x400200 {
		t.Fatalf("expected the call to keep its destination - got 0x%x", body)
	}
}

func TestRelocateShortJcc(t *testing.T) {
	code := []byte{
		0x74, 0x10, // je 0x400012
		0x55,       // push ebp
		0x8B, 0xEC, // mov ebp, esp
		0xC3,
	}
	e, buf := newEngine(t, 32, code)

	tramp, err := e.Create(codeBase, detourAddr)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := buf.Read(tramp, 6+3+jmpRelSize)
	if body[0] != 0x0F || body[1] != 0x84 || rel32At(body[2:], tramp+6) != 0x400012 {
		t.Fatalf("expected je to be widened to rel32 - got 0x%x", body[:6])
	}
	if !bytes.Equal(body[6:9], code[2:5]) {
		t.Fatalf("unexpected copy of the following instructions 0x%x", body[6:9])
	}
	if body[9] != 0xE9 || rel32At(body[10:], tramp+6+3+jmpRelSize) != codeBase+5 {
		t.Fatalf("expected a jump back to %s - got 0x%x", codeBase+5, body[9:])
	}
}

func TestRelocateRIPRelative(t *testing.T) {
	code := []byte{
		0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, // mov rax, [rip+0x10]
		0xC3,
	}
	e, buf := newEngine(t, 64, code)

	tramp, err := e.Create(codeBase, detourAddr)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := buf.Read(tramp, 7)
	if !bytes.Equal(body[:3], code[:3]) || rel32At(body[3:], tramp+7) != codeBase+7+0x10 {
		t.Fatalf("expected the operand to keep pointing at %s - got 0x%x", codeBase+0x17, body)
	}
}

func TestUnsupportedFunctions(t *testing.T) {
	for name, code := range map[string][]byte{
		"ret":            {0xC3},
		"short function": {0x31, 0xC0, 0xC3}, // xor eax, eax; ret
		"jmp into patch": {0xEB, 0x01, 0x90, 0x90, 0x90, 0x90},
		"loop":           {0xE2, 0x10, 0x90, 0x90, 0x90},
	} {
		e, _ := newEngine(t, 32, code)

		_, err := e.Create(codeBase, detourAddr)
		if !errors.Is(err, ErrUnsupportedFunction) {
			t.Fatalf("%s: expected ErrUnsupportedFunction - got %v", name, err)
		}
	}

	e, _ := newEngine(t, 32, []byte{0x90})
	if _, err := e.Create(0, detourAddr); !errors.Is(err, ErrUnsupportedFunction) {
		t.Fatalf("expected ErrUnsupportedFunction for a nil target - got %v", err)
	}
}

func TestFarDetour(t *testing.T) {
	code := []byte{
		0x48, 0x89, 0x5C, 0x24, 0x08, // mov [rsp+8], rbx
		0x48, 0x89, 0x74, 0x24, 0x10, // mov [rsp+0x10], rsi
		0x57,                   // push rdi
		0x48, 0x83, 0xEC, 0x20, // sub rsp, 0x20
		0xC3,
	}
	e, buf := newEngine(t, 64, code)

	far := memory.Address(0x7FF000000000)
	if _, err := e.Create(codeBase, far); err != nil {
		t.Fatal(err)
	}
	if err := e.Enable(codeBase); err != nil {
		t.Fatal(err)
	}

	patched, _ := buf.Read(codeBase, jmpAbsSize)
	if patched[0] != 0xFF || patched[1] != 0x25 || binary.LittleEndian.Uint64(patched[6:]) != uint64(far) {
		t.Fatalf("expected an absolute jump - got 0x%x", patched)
	}
}

func TestCreateDecodesInTargetMode(t *testing.T) {
	// dec eax; mov eax, 1 in 32-bit code, mov rax, imm64 in 64-bit code
	code := []byte{0x48, 0xB8, 0x01, 0x00, 0x00, 0x00, 0xC3}

	e, buf := newEngine(t, 32, code)
	tramp, err := e.Create(codeBase, detourAddr)
	if err != nil {
		t.Fatal(err)
	}

	body, _ := buf.Read(tramp, 6+jmpRelSize)
	if !bytes.Equal(body[:6], code[:6]) || body[6] != 0xE9 {
		t.Fatalf("expected two 32-bit instructions and a jump - got 0x%x", body)
	}
	if rel32At(body[7:], tramp+6+jmpRelSize) != codeBase+6 {
		t.Fatalf("expected the jump back to land on the ret at %s", codeBase+6)
	}
}
