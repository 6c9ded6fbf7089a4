/**
 * Copyright 2025 kmeaw
 *
 * Licensed under the GNU Affero General Public License (AGPL).
 *
 * This program is free software: you can redistribute it and/or modify it
 * under the terms of the GNU Affero General Public License as published by the
 * Free Software Foundation, version 3 of the License.
 *
 * This program is distributed in the hope that it will be useful, but WITHOUT
 * ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
 * FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
 * for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/samber/lo"

	"sigdetour/internal/event"
	"sigdetour/internal/hook"
	"sigdetour/internal/image"
	"sigdetour/internal/intercept"
	"sigdetour/internal/memory"
	"sigdetour/internal/resolve"
	"sigdetour/internal/scan"
	"sigdetour/internal/script"
)

const (
	defaultNameLen = 260
	keptEvents     = 256
)

var ErrUnknownGame = errors.New("cannot identify game version")

// App owns the orchestrator and everything watching it.
type App struct {
	Config *Config
	Mem    memory.Memory
	Orch   *intercept.Orchestrator

	Events      *event.Recorder
	Broadcaster *event.Broadcaster
	IRC         *event.IRCSink

	logger log.Interface

	mu       sync.Mutex
	task     *intercept.Task
	game     string
	gameName string
	failure  error
}

func NewApp(cfg *Config, mem memory.Memory, modules image.Locator, prim hook.Primitive, logger log.Interface) *App {
	if logger == nil {
		logger = log.Log
	}

	a := &App{
		Config:      cfg,
		Mem:         mem,
		Events:      &event.Recorder{Limit: keptEvents},
		Broadcaster: event.NewBroadcaster(),
		logger:      logger,
	}

	var irc event.Sink
	if cfg.IRCServer != "" && cfg.IRCChannel != "" {
		a.IRC = event.NewIRCSink(cfg.IRCNick, cfg.IRCChannel)
		a.IRC.Pass = cfg.IRCPass
		irc = a.IRC
	}

	a.Orch = &intercept.Orchestrator{
		Scanner:   &scan.Scanner{Mem: mem, Modules: modules},
		Mem:       mem,
		Subsystem: hook.NewSubsystem(prim),
		Sink:      event.Multi(event.NewLogSink(logger), a.Events, a.Broadcaster, irc),
		Interval:  cfg.Interval(),
		Timeout:   cfg.Timeout(),
	}

	// pointers are read with the width the engine decodes
	if m, ok := prim.(interface{ Mode() int }); ok {
		a.Orch.Mode = m.Mode()
	}

	return a
}

// Start runs initialization in the background.
func (a *App) Start(ctx context.Context) *intercept.Task {
	if a.IRC != nil {
		if err := a.IRC.Dial(a.Config.IRCServer, a.Config.IRCTLS); err != nil {
			a.logger.WithError(err).Warn("cannot relay events to IRC")
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.task = intercept.Start(ctx, a.initialize)
	return a.task
}

func (a *App) initialize(ctx context.Context) error {
	err := a.install(ctx)
	if err != nil {
		// never leave a partial set of hooks behind
		if uerr := a.Orch.UninstallAll(); uerr != nil {
			a.logger.WithError(uerr).Error("cannot roll back hooks")
		}

		a.mu.Lock()
		a.failure = err
		a.mu.Unlock()
		return err
	}

	a.Orch.Ready()
	return nil
}

func (a *App) install(ctx context.Context) error {
	if a.Config.Game != nil {
		if err := a.identify(ctx, a.Config.Game); err != nil {
			return err
		}
	}

	if a.Config.DLLDir != "" {
		if _, ok := a.Mem.(*memory.Self); ok {
			loadDLLs(a.Config.DLLDir, loadLibrary, a.logger)
		} else {
			a.logger.Warnf("not loading DLLs from %s into another process", a.Config.DLLDir)
		}
	}

	game := a.Game()
	for _, t := range a.Config.Targets {
		if len(t.Games) > 0 && !lo.Contains(t.Games, game) {
			a.logger.WithField("target", t.Name).Debugf("not used by %q", game)
			continue
		}

		if err := a.attach(ctx, t); err != nil {
			return err
		}
	}

	return nil
}

// identify reads the game name through the configured signature and maps
// it to a game id.
func (a *App) identify(ctx context.Context, g *GameConfig) error {
	sig, err := g.Compile()
	if err != nil {
		return err
	}

	addr, err := a.Orch.Locate(ctx, sig)
	if err != nil {
		return err
	}

	maxLen := g.MaxLen
	if maxLen <= 0 {
		maxLen = defaultNameLen
	}

	name, err := resolve.WString(a.Mem, addr, maxLen)
	if err != nil {
		return a.fatal(sig.Name, fmt.Errorf("cannot read game name: %w", err))
	}

	// paths use backslashes, names do not
	name = strings.ReplaceAll(name, `\`, "")

	id, ok := g.Names[name]
	if !ok {
		return a.fatal(sig.Name, fmt.Errorf("%w (%q)", ErrUnknownGame, name))
	}

	a.mu.Lock()
	a.game = id
	a.gameName = name
	a.mu.Unlock()

	a.Orch.Sink.Emit(event.New(event.Info, event.KindResolve, "Game: %s (%s)", name, id))
	return nil
}

func (a *App) fatal(name string, err error) error {
	e := event.New(event.Fatal, event.KindFailure, "%v", err)
	e.Name = name
	a.Orch.Sink.Emit(e)
	return err
}

func (a *App) attach(ctx context.Context, t TargetConfig) error {
	sig, err := t.Compile()
	if err != nil {
		return err
	}

	aux := make([]intercept.Signature, 0, len(t.Aux))
	for _, s := range t.Aux {
		as, err := s.Compile()
		if err != nil {
			return err
		}
		aux = append(aux, as)
	}

	if t.Redirect != nil {
		return a.attachRedirect(ctx, t, sig, aux)
	}

	return a.attachCallback(ctx, t, sig, aux)
}

// attachRedirect sends every call of the target to another function found
// by signature. The original is not called back.
func (a *App) attachRedirect(ctx context.Context, t TargetConfig, sig intercept.Signature, aux []intercept.Signature) error {
	dest, err := t.Redirect.Compile()
	if err != nil {
		return err
	}

	_, err = intercept.Attach(ctx, a.Orch, intercept.Target[intercept.Native]{
		Name:      t.Name,
		Signature: sig,
		Aux:       aux,
		Replace: func(*hook.Record[intercept.Native], map[string]memory.Address) (memory.Address, error) {
			return a.Orch.Locate(ctx, dest)
		},
	})
	return err
}

// attachCallback replaces the target with a callback which calls the
// original and then runs the target's script.
func (a *App) attachCallback(ctx context.Context, t TargetConfig, sig intercept.Signature, aux []intercept.Signature) error {
	var post *script.Post
	if t.Script != "" {
		source, err := scriptSource(t.Script)
		if err != nil {
			return a.fatal(t.Name, err)
		}

		post, err = script.Compile(t.Name, source, a.logger)
		if err != nil {
			return a.fatal(t.Name, err)
		}

		err = post.Define("read32", func(addr int64) int64 {
			v, err := memory.ReadU32(a.Mem, memory.Address(addr))
			if err != nil {
				return -1
			}
			return int64(v)
		})
		if err != nil {
			return err
		}
	}

	_, err := intercept.Attach(ctx, a.Orch, intercept.Target[intercept.Native]{
		Name:      t.Name,
		Signature: sig,
		Aux:       aux,
		Bind:      intercept.NativeBinder,
		Replace: func(rec *hook.Record[intercept.Native], addrs map[string]memory.Address) (memory.Address, error) {
			var postFn intercept.PostFunc
			if post != nil {
				for name, addr := range addrs {
					if err := post.Define(scriptName(name), int64(addr)); err != nil {
						return 0, err
					}
				}
				// ctx ends with startup, calls go on afterwards
				postFn = post.Func(context.Background())
			}

			body := func(args ...uintptr) uintptr {
				original := rec.Original()
				if original == nil {
					return 0
				}
				return intercept.Chain(original, postFn)(args...)
			}

			fn, err := callbackFor(t.Args, body)
			if err != nil {
				return 0, err
			}

			if t.CDecl {
				return intercept.NewCallbackCDecl(fn)
			}
			return intercept.NewCallback(fn)
		},
	})
	return err
}

// scriptSource returns inline source, or the file contents for "@path".
func scriptSource(s string) (string, error) {
	if !strings.HasPrefix(s, "@") {
		return s, nil
	}

	b, err := os.ReadFile(s[1:])
	if err != nil {
		return "", fmt.Errorf("cannot read script: %w", err)
	}
	return string(b), nil
}

// scriptName turns "input table" into "input_table".
func scriptName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
}

func (a *App) Game() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.game
}

func (a *App) GameName() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.gameName
}

// Status is "starting", "ready" or the startup failure.
func (a *App) Status() string {
	a.mu.Lock()
	task, failure := a.task, a.failure
	a.mu.Unlock()

	if failure != nil {
		return failure.Error()
	}
	if task == nil {
		return "idle"
	}

	select {
	case <-task.Done():
		return "ready"
	default:
		return "starting"
	}
}

// Stop abandons startup, removes every hook and shuts the hooking
// subsystem down.
func (a *App) Stop() error {
	a.mu.Lock()
	task := a.task
	a.mu.Unlock()

	if task != nil {
		task.Cancel()
		task.Wait()
	}

	if a.IRC != nil {
		a.IRC.Close()
	}

	err := a.Orch.UninstallAll()
	if uerr := a.Orch.Subsystem.Uninitialize(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// vim: ai:ts=8:sw=8:noet:syntax=go
