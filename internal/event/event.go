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

// Package event carries diagnostics out of the engine. Engine code reports
// what happened to a Sink and never decides how it is presented.
package event

import (
	"fmt"
	"sync"
	"time"

	"sigdetour/internal/memory"
)

type Severity int

const (
	Debug Severity = iota
	Info
	Warn
	Error
	Fatal
)

var severityNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Kind string

const (
	KindScan        Kind = "scan"
	KindResolve     Kind = "resolve"
	KindHookEnabled Kind = "hook-enabled"
	KindHookRemoved Kind = "hook-removed"
	KindReady       Kind = "ready"
	KindFailure     Kind = "failure"
)

type Event struct {
	Time        time.Time      `json:"time"`
	Severity    Severity       `json:"severity"`
	Kind        Kind           `json:"kind"`
	Name        string         `json:"name,omitempty"`
	Message     string         `json:"message"`
	Target      memory.Address `json:"target,omitempty"`
	Replacement memory.Address `json:"replacement,omitempty"`
}

func New(sev Severity, kind Kind, format string, args ...interface{}) Event {
	return Event{
		Time:     time.Now(),
		Severity: sev,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
	}
}

func (e Event) String() string {
	if e.Name != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Name, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
}

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	f(e)
}

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps events in memory. With a Limit above zero only the last
// Limit events are kept.
type Recorder struct {
	Limit int

	mu     sync.Mutex
	events []Event
	next   int // ring position once Limit is reached
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Limit <= 0 || len(r.events) < r.Limit {
		r.events = append(r.events, e)
		return
	}

	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
}

// Events returns the kept events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()

	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
	r.next = 0
}

// vim: ai:ts=8:sw=8:noet:syntax=go
