package detour

import (
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"sigdetour/internal/memory"
)

// NativeMode is the decoder mode matching the pointer size of this build.
const NativeMode = strconv.IntSize

// steal decodes whole instructions at target until at least need bytes are
// covered.
func (e *Engine) steal(target memory.Address, code []byte, need int) ([]x86asm.Inst, int, error) {
	var insts []x86asm.Inst
	off := 0

	for off < need {
		inst, err := x86asm.Decode(code[off:], e.mode)
		if err != nil {
			return nil, 0, errors.Wrapf(ErrUnsupportedFunction, "cannot decode %s: %v", target.Add(int64(off)), err)
		}

		insts = append(insts, inst)
		off += inst.Len

		if off < need && endsFlow(inst) {
			return nil, 0, errors.Wrapf(ErrUnsupportedFunction, "%s is shorter than %d bytes", target, need)
		}
	}

	return insts, off, nil
}

func endsFlow(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ, x86asm.INT:
		return true
	case x86asm.JMP:
		return true
	}
	return false
}

func relBranch(inst x86asm.Inst) (x86asm.Rel, bool) {
	rel, ok := inst.Args[0].(x86asm.Rel)
	return rel, ok
}

func ripRelative(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.RIP {
			return m, true
		}
	}
	return x86asm.Mem{}, false
}

// relocate emits the stolen instructions for execution at tramp, followed by
// a jump back to the first instruction that was not stolen.
func (e *Engine) relocate(target, tramp memory.Address, code []byte, insts []x86asm.Inst, patched int) ([]byte, error) {
	var out []byte
	src := 0

	for _, inst := range insts {
		raw := code[src : src+inst.Len]
		old_ip := target.Add(int64(src))
		new_ip := tramp.Add(int64(len(out)))

		b, err := e.relocateOne(inst, raw, old_ip, new_ip, target, patched)
		if err != nil {
			return nil, err
		}

		out = append(out, b...)
		src += inst.Len
	}

	back := e.jump(tramp.Add(int64(len(out))), target.Add(int64(src)))
	return append(out, back...), nil
}

func (e *Engine) relocateOne(inst x86asm.Inst, raw []byte, old_ip, new_ip, target memory.Address, patched int) ([]byte, error) {
	if rel, ok := relBranch(inst); ok {
		dest := old_ip.Add(int64(inst.Len) + int64(rel))
		if dest > target && dest < target.Add(int64(patched)) {
			return nil, errors.Wrapf(ErrUnsupportedFunction, "branch at %s lands in the patched bytes", old_ip)
		}
		return e.branch(inst, raw, new_ip, dest, old_ip)
	}

	if mem, ok := ripRelative(inst); ok {
		if inst.PCRel != 4 || inst.PCRelOff <= 0 {
			return nil, errors.Wrapf(ErrUnsupportedFunction, "cannot relocate %v at %s", inst, old_ip)
		}

		dest := old_ip.Add(int64(inst.Len) + mem.Disp)
		next := new_ip.Add(int64(inst.Len))
		if !fitsRel32(next, dest) {
			return nil, errors.Wrapf(ErrUnsupportedFunction, "%v at %s is out of reach of the trampoline", inst, old_ip)
		}

		b := append([]byte(nil), raw...)
		putRel32(b[inst.PCRelOff:], next, dest)
		return b, nil
	}

	return append([]byte(nil), raw...), nil
}

func (e *Engine) branch(inst x86asm.Inst, raw []byte, new_ip, dest, old_ip memory.Address) ([]byte, error) {
	switch inst.Op {
	case x86asm.CALL:
		if e.mode == 32 || fitsRel32(new_ip+5, dest) {
			b := []byte{0xE8, 0, 0, 0, 0}
			putRel32(b[1:], new_ip+5, dest)
			return b, nil
		}
		return callAbs(dest), nil

	case x86asm.JMP:
		return e.jump(new_ip, dest), nil

	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return nil, errors.Wrapf(ErrUnsupportedFunction, "cannot relocate %v at %s", inst, old_ip)
	}

	if inst.PCRelOff <= 0 {
		return nil, errors.Wrapf(ErrUnsupportedFunction, "cannot relocate %v at %s", inst, old_ip)
	}

	cc := raw[inst.PCRelOff-1] & 0x0F
	if e.mode == 32 || fitsRel32(new_ip+6, dest) {
		b := []byte{0x0F, 0x80 | cc, 0, 0, 0, 0}
		putRel32(b[2:], new_ip+6, dest)
		return b, nil
	}

	// inverted condition skips over the absolute jump
	b := []byte{0x70 | (cc ^ 1), jmpAbsSize}
	return append(b, jmpAbs(dest)...), nil
}

