/**
 * Copyright 2022 kmeaw
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
package event

import (
	"sync"
	"time"
)

// Broadcaster hands the latest event to every subscriber. A subscriber
// that does not pick up an event within Timeout is dropped.
type Broadcaster struct {
	Timeout time.Duration

	lastEvent *Event
	mu        *sync.Mutex
	cv        *sync.Cond
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{Timeout: time.Second}
	b.mu = new(sync.Mutex)
	b.cv = sync.NewCond(b.mu)
	return b
}

func (b *Broadcaster) Emit(event Event) {
	b.mu.Lock()
	b.lastEvent = &event
	b.mu.Unlock()

	b.cv.Broadcast()
}

func (b *Broadcaster) Last() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastEvent == nil {
		return Event{}, false
	}
	return *b.lastEvent, true
}

// Subscribe returns a channel of events emitted after the call. The channel
// is closed once the subscriber falls behind.
func (b *Broadcaster) Subscribe() <-chan Event {
	b.mu.Lock()
	last_event := b.lastEvent
	b.mu.Unlock()

	ch := make(chan Event)
	go func(ch chan Event) {
		defer close(ch)

		for {
			b.mu.Lock()
			var event *Event
			for {
				event = b.lastEvent
				if event != nil && event != last_event {
					break
				}
				b.cv.Wait()
			}
			b.mu.Unlock()

			last_event = event
			t := time.NewTimer(b.Timeout)
			select {
			case <-t.C:
				// timed out
				return
			case ch <- *event:
				// done
			}
			t.Stop()
		}
	}(ch)
	return ch
}

// vim: ai:ts=8:sw=8:noet:syntax=go
