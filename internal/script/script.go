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

// Package script runs anko post-processing steps on intercepted calls.
//
// A script defines post(args, ret). It sees the call arguments and the
// original result as integers and returns nil to keep the result or a
// number to replace it.
package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/apex/log"
	"github.com/mattn/anko/env"
	"github.com/mattn/anko/vm"

	"sigdetour/internal/intercept"
)

var ErrNoPost = errors.New("script does not define post")

type Post struct {
	Name string

	logger log.Interface
	e      *env.Env
}

// Compile runs source once and keeps the resulting environment.
func Compile(name, source string, logger log.Interface) (*Post, error) {
	if logger == nil {
		logger = log.Log
	}
	logger = logger.WithField("script", name)

	e := env.NewEnv()

	var errs []error
	errs = append(errs, e.Define("hex", func(v int64) string {
		return fmt.Sprintf("0x%X", v)
	}))
	errs = append(errs, e.Define("log", func(format string, args ...interface{}) {
		logger.Infof(format, args...)
	}))
	errs = append(errs, e.Define("int", func(token string) int64 {
		n, err := strconv.ParseInt(token, 0, 64)
		if err != nil {
			logger.Warnf("cannot convert %q to int: %s", token, err)
			return -1
		}
		return n
	}))
	errs = append(errs, e.Define("sprintf", fmt.Sprintf))
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if _, err := vm.Execute(e, nil, source); err != nil {
		return nil, fmt.Errorf("cannot load script %s: %w", name, err)
	}

	if _, err := e.Get("post"); err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoPost)
	}

	return &Post{Name: name, logger: logger, e: e}, nil
}

// Define adds a global visible to every later run.
func (p *Post) Define(name string, value interface{}) error {
	return p.e.Define(name, value)
}

// Run calls post in a copy of the environment holding this call's args
// and ret.
func (p *Post) Run(ctx context.Context, args []uintptr, ret uintptr) (uintptr, bool, error) {
	e := p.e.DeepCopy()

	list := make([]interface{}, len(args))
	for i, a := range args {
		list[i] = int64(a)
	}

	if err := e.Define("args", list); err != nil {
		return ret, false, err
	}
	if err := e.Define("ret", int64(ret)); err != nil {
		return ret, false, err
	}

	result, err := vm.ExecuteContext(ctx, e, nil, "post(args, ret)")
	if err != nil {
		return ret, false, fmt.Errorf("%s: %w", p.Name, err)
	}

	switch v := result.(type) {
	case nil:
		return ret, false, nil
	case int64:
		return uintptr(v), true, nil
	case int:
		return uintptr(v), true, nil
	case float64:
		return uintptr(int64(v)), true, nil
	case bool:
		if v {
			return 1, true, nil
		}
		return 0, true, nil
	}

	return ret, false, fmt.Errorf("%s: post returned %T", p.Name, result)
}

// Func adapts p for intercept.Chain. Script errors are logged and leave
// the result alone.
func (p *Post) Func(ctx context.Context) intercept.PostFunc {
	return func(args []uintptr, ret uintptr) (uintptr, bool) {
		alt, ok, err := p.Run(ctx, args, ret)
		if err != nil {
			p.logger.WithError(err).Warn("post-processing failed")
			return ret, false
		}
		return alt, ok
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
