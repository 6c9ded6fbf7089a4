package hook

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/modern-go/reflect2"

	"sigdetour/internal/event"
	"sigdetour/internal/memory"
)

type State int

const (
	Uninitialized State = iota
	Installed
	Enabled
	Disabled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Installed:
		return "installed"
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Binder turns the address of a trampoline into something callable.
type Binder[T any] func(memory.Address) T

// Record is one hook on one target. T is the signature of the hooked
// function and must be a func type.
type Record[T any] struct {
	Name string

	sub  *Subsystem
	bind Binder[T]
	sink event.Sink

	mu          sync.Mutex
	state       State
	target      memory.Address
	replacement memory.Address
	trampoline  memory.Address

	// read on every intercepted call, never under mu
	original atomic.Pointer[T]
}

func New[T any](name string, sub *Subsystem, bind Binder[T], sink event.Sink) (*Record[T], error) {
	typ := reflect2.TypeOfPtr((*T)(nil)).Elem()
	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s: %s: %w", name, typ.String(), ErrNotFunc)
	}

	if sink == nil {
		sink = event.Discard
	}

	return &Record[T]{
		Name: name,
		sub:  sub,
		bind: bind,
		sink: sink,
	}, nil
}

// Init creates the hook without enabling it and captures the original.
func (r *Record[T]) Init(target, replacement memory.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sub.Init(); err != nil {
		return err
	}

	if target.IsNil() || replacement.IsNil() {
		return fmt.Errorf("%s: %w", r.Name, ErrNilAddress)
	}

	if r.state != Uninitialized {
		return fmt.Errorf("%s: cannot init %s hook: %w", r.Name, r.state, ErrState)
	}

	tramp, err := r.sub.Primitive().Create(target, replacement)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", r.Name, ErrInstall, err)
	}

	var original T
	if r.bind != nil {
		original = r.bind(tramp)
		if reflect2.IsNil(original) {
			r.sub.Primitive().Remove(target)
			return fmt.Errorf("%s: cannot bind trampoline at %s: %w", r.Name, tramp, ErrInstall)
		}
	}

	r.target = target
	r.replacement = replacement
	r.trampoline = tramp
	r.original.Store(&original)
	r.state = Installed
	return nil
}

// Enable redirects the target to the replacement. A failure other than
// enabling twice drops the hook and leaves the record uninitialized.
func (r *Record[T]) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Enabled:
		return fmt.Errorf("%s: %w: already enabled", r.Name, ErrState)
	case Installed, Disabled:
	default:
		r.clear()
		return fmt.Errorf("%s: cannot enable %s hook: %w", r.Name, r.state, ErrState)
	}

	if !r.sub.Ready() {
		r.clear()
		return fmt.Errorf("%s: %w", r.Name, ErrSubsystem)
	}

	if err := r.sub.Primitive().Enable(r.target); err != nil {
		r.sub.Primitive().Remove(r.target)
		r.clear()
		return fmt.Errorf("%s: cannot enable hook: %w", r.Name, err)
	}

	r.state = Enabled

	e := event.New(event.Info, event.KindHookEnabled, "Hooked function: %s -> %s", r.target, r.replacement)
	e.Name = r.Name
	e.Target = r.target
	e.Replacement = r.replacement
	r.sink.Emit(e)

	return nil
}

// Disable restores the original bytes but keeps the hook for a later
// Enable.
func (r *Record[T]) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Enabled {
		return fmt.Errorf("%s: cannot disable %s hook: %w", r.Name, r.state, ErrState)
	}

	if err := r.sub.Primitive().Disable(r.target); err != nil {
		return fmt.Errorf("%s: cannot disable hook: %w", r.Name, err)
	}

	r.state = Disabled
	return nil
}

// Remove disables the hook if needed and deletes it. On failure the record
// is left as it was.
func (r *Record[T]) Remove() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Uninitialized {
		return fmt.Errorf("%s: nothing to remove: %w", r.Name, ErrState)
	}

	if r.state == Enabled {
		if err := r.sub.Primitive().Disable(r.target); err != nil {
			return fmt.Errorf("%s: cannot disable hook: %w", r.Name, err)
		}
		r.state = Disabled
	}

	if err := r.sub.Primitive().Remove(r.target); err != nil {
		return fmt.Errorf("%s: cannot remove hook: %w", r.Name, err)
	}

	e := event.New(event.Info, event.KindHookRemoved, "Unhooked function: %s", r.target)
	e.Name = r.Name
	e.Target = r.target
	e.Replacement = r.replacement

	r.clear()
	r.sink.Emit(e)
	return nil
}

func (r *Record[T]) clear() {
	r.state = Uninitialized
	r.target = 0
	r.replacement = 0
	r.trampoline = 0
	r.original.Store(nil)
}

// Original calls through to the hooked function. It is the zero T unless
// the hook is installed. It does not lock, so a replacement may call it
// while Remove is patching the target.
func (r *Record[T]) Original() T {
	if p := r.original.Load(); p != nil {
		return *p
	}

	var zero T
	return zero
}

func (r *Record[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Record[T]) Target() memory.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.target
}

func (r *Record[T]) Replacement() memory.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.replacement
}

func (r *Record[T]) Trampoline() memory.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.trampoline
}

// vim: ai:ts=8:sw=8:noet:syntax=go
