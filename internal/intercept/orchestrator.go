package intercept

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"sigdetour/internal/event"
	"sigdetour/internal/hook"
	"sigdetour/internal/image"
	"sigdetour/internal/memory"
	"sigdetour/internal/scan"
)

var (
	ErrDuplicateTarget = errors.New("target is already hooked")
	ErrDuplicateName   = errors.New("hook name is already in use")
	ErrUnknownHook     = errors.New("no such hook")
)

// Installer is the part of hook.Record the orchestrator drives.
type Installer interface {
	Init(target, replacement memory.Address) error
	Enable() error
	Disable() error
	Remove() error
	State() hook.State
	Trampoline() memory.Address
}

// HookInfo describes an installed hook.
type HookInfo struct {
	Name        string         `json:"name"`
	Target      memory.Address `json:"target"`
	Replacement memory.Address `json:"replacement"`
	Trampoline  memory.Address `json:"trampoline"`
	State       string         `json:"state"`
}

type installed struct {
	target      memory.Address
	replacement memory.Address
	hook        Installer
}

// Orchestrator locates targets and installs at most one hook per target.
type Orchestrator struct {
	Scanner   *scan.Scanner
	Mem       memory.Reader
	Subsystem *hook.Subsystem
	Sink      event.Sink

	Interval time.Duration
	Timeout  time.Duration
	Mode     int // 32 or 64, the native size when zero

	mu     sync.Mutex
	claims map[memory.Address]string
	hooks  map[string]*installed
}

func (o *Orchestrator) sink() event.Sink {
	if o.Sink == nil {
		return event.Discard
	}
	return o.Sink
}

// mode is Mode when set, otherwise taken from the headers of module.
func (o *Orchestrator) mode(module string) int {
	if o.Mode != 0 {
		return o.Mode
	}

	m, err := image.Locate(o.Scanner.Modules, o.Scanner.Mem, module)
	if err != nil {
		return strconv.IntSize
	}
	if m.Is64 {
		return 64
	}
	return 32
}

func (o *Orchestrator) emit(sev event.Severity, kind event.Kind, name string, target memory.Address, format string, args ...interface{}) {
	e := event.New(sev, kind, format, args...)
	e.Name = name
	e.Target = target
	o.sink().Emit(e)
}

func (o *Orchestrator) fail(name string, target memory.Address, err error) error {
	o.emit(event.Fatal, event.KindFailure, name, target, "%v", err)
	return err
}

// Locate waits for sig to show up and resolves it. Every failure is
// reported as fatal.
func (o *Orchestrator) Locate(ctx context.Context, sig Signature) (memory.Address, error) {
	interval := sig.Interval
	if interval == 0 {
		interval = o.Interval
	}
	timeout := sig.Timeout
	if timeout == 0 {
		timeout = o.Timeout
	}

	match, err := Poll(ctx, interval, timeout, func() (memory.Address, error) {
		if sig.Size != 0 {
			return o.Scanner.ModuleSize(sig.Module, sig.Size, sig.Pattern)
		}
		return o.Scanner.Module(sig.Module, sig.Pattern)
	})
	if err != nil {
		return 0, o.fail(sig.Name, 0, fmt.Errorf("cannot find %s: %w", sig.Name, err))
	}

	o.emit(event.Debug, event.KindScan, sig.Name, match, "Found %s at %s", sig.Name, match)

	if len(sig.Steps) == 0 {
		return match, nil
	}

	addr, err := sig.Resolve(o.Mem, match, o.mode(sig.Module))
	if err != nil {
		return 0, o.fail(sig.Name, match, fmt.Errorf("cannot resolve %w", err))
	}

	o.emit(event.Debug, event.KindResolve, sig.Name, addr, "Resolved %s to %s", sig.Name, addr)
	return addr, nil
}

// Claim reserves target for the hook called name.
func (o *Orchestrator) Claim(name string, target memory.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.claims == nil {
		o.claims = make(map[memory.Address]string)
	}

	if owner, ok := o.claims[target]; ok {
		return fmt.Errorf("cannot hook %s for %s, %s has it: %w", target, name, owner, ErrDuplicateTarget)
	}
	if _, ok := o.hooks[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicateName)
	}
	for _, owner := range o.claims {
		if owner == name {
			return fmt.Errorf("%s: %w", name, ErrDuplicateName)
		}
	}

	o.claims[target] = name
	return nil
}

func (o *Orchestrator) Release(target memory.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.claims, target)
}

// Install claims target, then initializes and enables h. Nothing stays
// claimed or installed if any of it fails.
func (o *Orchestrator) Install(ctx context.Context, name string, target, replacement memory.Address, h Installer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.Claim(name, target); err != nil {
		return o.fail(name, target, err)
	}

	if err := h.Init(target, replacement); err != nil {
		o.Release(target)
		return o.fail(name, target, fmt.Errorf("cannot install %s: %w", name, err))
	}

	if err := h.Enable(); err != nil {
		// a failed Enable already dropped the hook
		if h.State() != hook.Uninitialized {
			h.Remove()
		}
		o.Release(target)
		return o.fail(name, target, fmt.Errorf("cannot enable %s: %w", name, err))
	}

	o.mu.Lock()
	if o.hooks == nil {
		o.hooks = make(map[string]*installed)
	}
	o.hooks[name] = &installed{target: target, replacement: replacement, hook: h}
	o.mu.Unlock()

	return nil
}

// Uninstall removes the hook called name and frees its target.
func (o *Orchestrator) Uninstall(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ins, ok := o.hooks[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownHook)
	}

	if err := ins.hook.Remove(); err != nil {
		return fmt.Errorf("cannot uninstall %s: %w", name, err)
	}

	delete(o.hooks, name)
	delete(o.claims, ins.target)
	return nil
}

// Enable turns the hook called name back on after Disable.
func (o *Orchestrator) Enable(name string) error {
	return o.toggle(name, Installer.Enable)
}

// Disable restores the original code of the hook called name but keeps
// the hook and its target claim.
func (o *Orchestrator) Disable(name string) error {
	return o.toggle(name, Installer.Disable)
}

func (o *Orchestrator) toggle(name string, fn func(Installer) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ins, ok := o.hooks[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownHook)
	}

	return fn(ins.hook)
}

// UninstallAll removes every hook and returns the first failure.
func (o *Orchestrator) UninstallAll() error {
	var first error
	for _, h := range o.Hooks() {
		if err := o.Uninstall(h.Name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Hooks lists the installed hooks by name.
func (o *Orchestrator) Hooks() []HookInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	infos := make([]HookInfo, 0, len(o.hooks))
	for name, ins := range o.hooks {
		infos = append(infos, HookInfo{
			Name:        name,
			Target:      ins.target,
			Replacement: ins.replacement,
			Trampoline:  ins.hook.Trampoline(),
			State:       ins.hook.State().String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Ready reports that startup has finished.
func (o *Orchestrator) Ready() {
	o.sink().Emit(event.New(event.Info, event.KindReady, "Initialized!"))
}

// vim: ai:ts=8:sw=8:noet:syntax=go
