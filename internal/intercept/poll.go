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

// Package intercept ties scanning, address resolution and hooking into one
// startup sequence that tolerates code which is not unpacked yet.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sigdetour/internal/memory"
	"sigdetour/internal/scan"
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

var ErrTimeout = errors.New("gave up waiting for a match")

// Poll calls try until it finds something. NotFound results are retried
// every interval; any other error stops the loop. Once the accumulated wait
// exceeds timeout, Poll fails with ErrTimeout.
func Poll(ctx context.Context, interval, timeout time.Duration, try func() (memory.Address, error)) (memory.Address, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var waited time.Duration
	for {
		addr, err := try()
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, scan.ErrNotFound) {
			return 0, err
		}

		waited += interval
		if waited > timeout {
			return 0, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}
}

// vim: ai:ts=8:sw=8:noet:syntax=go
