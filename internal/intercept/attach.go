package intercept

import (
	"context"
	"fmt"

	"sigdetour/internal/hook"
	"sigdetour/internal/memory"
)

// Target describes one hook: where the function is, what data it needs
// and how to build the replacement once the original is known.
type Target[T any] struct {
	Name      string
	Signature Signature
	Aux       []Signature // data addresses handed to Replace by name
	Bind      hook.Binder[T]

	// Replace returns the address the target is redirected to. It may call
	// rec.Original() only after the hook is installed.
	Replace func(rec *hook.Record[T], aux map[string]memory.Address) (memory.Address, error)
}

// Attached is a hook installed by Attach.
type Attached[T any] struct {
	Record *hook.Record[T]
	Target memory.Address
	Aux    map[string]memory.Address
}

// Attach locates t and its auxiliary data, then installs the hook.
func Attach[T any](ctx context.Context, o *Orchestrator, t Target[T]) (*Attached[T], error) {
	name := t.Name
	if name == "" {
		name = t.Signature.Name
	}

	target, err := o.Locate(ctx, t.Signature)
	if err != nil {
		return nil, err
	}

	aux := make(map[string]memory.Address, len(t.Aux))
	for _, sig := range t.Aux {
		addr, err := o.Locate(ctx, sig)
		if err != nil {
			return nil, err
		}
		aux[sig.Name] = addr
	}

	rec, err := hook.New[T](name, o.Subsystem, t.Bind, o.sink())
	if err != nil {
		return nil, o.fail(name, target, err)
	}

	if t.Replace == nil {
		return nil, o.fail(name, target, fmt.Errorf("%s: no replacement", name))
	}

	replacement, err := t.Replace(rec, aux)
	if err != nil {
		return nil, o.fail(name, target, fmt.Errorf("cannot build replacement for %s: %w", name, err))
	}

	if err := o.Install(ctx, name, target, replacement, rec); err != nil {
		return nil, err
	}

	return &Attached[T]{Record: rec, Target: target, Aux: aux}, nil
}
