package intercept

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"sigdetour/internal/memory"
	"sigdetour/internal/pattern"
	"sigdetour/internal/resolve"
)

type Op int

const (
	OpRel    Op = iota // rel32 call or jump
	OpBranch           // any relative branch, decoded
	OpAdd              // fixed offset
	OpDeref            // load a pointer
	OpRIP              // displacement inside a longer instruction
)

// Step is one link of a resolution chain. Steps are written as text:
//
//	rel            follow E8/E9 rel32
//	branch         follow a decoded CALL, JMP or Jcc
//	add:N          add N, which may be negative or hex
//	deref          load a pointer of the target's size
//	deref32        load a 4-byte pointer
//	deref64        load an 8-byte pointer
//	rip:D:L        disp32 at offset D of an L-byte instruction
type Step struct {
	Op  Op
	N   int64
	Len int
}

func (s Step) String() string {
	switch s.Op {
	case OpRel:
		return "rel"
	case OpBranch:
		return "branch"
	case OpAdd:
		return fmt.Sprintf("add:%d", s.N)
	case OpDeref:
		if s.Len == 0 {
			return "deref"
		}
		return fmt.Sprintf("deref%d", s.Len*8)
	case OpRIP:
		return fmt.Sprintf("rip:%d:%d", s.N, s.Len)
	}
	return fmt.Sprintf("op(%d)", int(s.Op))
}

// Apply moves addr one link along the chain. mode is 32 or 64.
func (s Step) Apply(r memory.Reader, addr memory.Address, mode int) (memory.Address, error) {
	switch s.Op {
	case OpRel:
		return resolve.FollowRelative(r, addr)
	case OpBranch:
		return resolve.FollowBranch(r, addr, mode)
	case OpAdd:
		return resolve.Offset(addr, s.N)
	case OpDeref:
		size := s.Len
		if size == 0 {
			size = mode / 8
		}
		return resolve.Deref(r, addr, size)
	case OpRIP:
		return resolve.Relative(r, addr, int(s.N), s.Len)
	}
	return 0, fmt.Errorf("unknown step %s", s)
}

func parseStep(text string) (Step, error) {
	parts := strings.Split(text, ":")

	switch parts[0] {
	case "rel", "branch", "deref", "deref32", "deref64":
		if len(parts) != 1 {
			return Step{}, fmt.Errorf("step %q takes no arguments", parts[0])
		}
	}

	switch parts[0] {
	case "rel":
		return Step{Op: OpRel}, nil
	case "branch":
		return Step{Op: OpBranch}, nil
	case "deref":
		return Step{Op: OpDeref}, nil
	case "deref32":
		return Step{Op: OpDeref, Len: 4}, nil
	case "deref64":
		return Step{Op: OpDeref, Len: 8}, nil
	case "add":
		if len(parts) != 2 {
			return Step{}, fmt.Errorf("expected add:N - got %q", text)
		}
		n, err := strconv.ParseInt(parts[1], 0, 64)
		if err != nil {
			return Step{}, fmt.Errorf("cannot parse offset %q: %w", parts[1], err)
		}
		return Step{Op: OpAdd, N: n}, nil
	case "rip":
		if len(parts) != 3 {
			return Step{}, fmt.Errorf("expected rip:D:L - got %q", text)
		}
		d, err := strconv.ParseInt(parts[1], 0, 8)
		if err != nil || d < 0 {
			return Step{}, fmt.Errorf("bad displacement offset %q", parts[1])
		}
		l, err := strconv.ParseInt(parts[2], 0, 8)
		if err != nil || l < d+4 || l > 15 {
			return Step{}, fmt.Errorf("bad instruction length %q", parts[2])
		}
		return Step{Op: OpRIP, N: d, Len: int(l)}, nil
	}

	return Step{}, fmt.Errorf("unknown step %q", text)
}

// ParseSteps reads a whitespace separated chain such as "add:3 deref".
func ParseSteps(text string) ([]Step, error) {
	var steps []Step
	for _, f := range strings.Fields(text) {
		s, err := parseStep(f)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Signature says where to find one address: a pattern inside a module,
// and the steps leading from the match to the address itself.
type Signature struct {
	Name    string
	Module  string // empty for the main executable
	Pattern pattern.Pattern
	Size    uintptr // bytes of code to scan, 0 for the whole section
	Steps   []Step

	// zero means the orchestrator's setting
	Interval time.Duration
	Timeout  time.Duration
}

// NewSignature compiles text and steps into a Signature.
func NewSignature(name, module, text, steps string) (Signature, error) {
	p, err := pattern.Parse(text)
	if err != nil {
		return Signature{}, fmt.Errorf("%s: %w", name, err)
	}

	chain, err := ParseSteps(steps)
	if err != nil {
		return Signature{}, fmt.Errorf("%s: %w", name, err)
	}

	return Signature{
		Name:    name,
		Module:  module,
		Pattern: p,
		Steps:   chain,
	}, nil
}

// Resolve walks the chain starting at a match.
func (sig Signature) Resolve(r memory.Reader, match memory.Address, mode int) (memory.Address, error) {
	addr := match
	for i, s := range sig.Steps {
		next, err := s.Apply(r, addr, mode)
		if err != nil {
			return 0, fmt.Errorf("%s: step %d (%s) at %s: %w", sig.Name, i, s, addr, err)
		}
		addr = next
	}
	return addr, nil
}
