// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a context.Context variant that tracks the
// goroutines it launched, so that shutdown can wait for them to drain
// instead of abandoning them.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Context is a context.Context that also tracks a group of goroutines
// started with Go. Stop signals cancellation (closing Stopping and
// canceling the context) and then blocks, up to a timeout, until every
// tracked goroutine has returned.
type Context struct {
	context.Context
	cancel context.CancelFunc

	stopping chan struct{}
	once     sync.Once

	mu struct {
		sync.Mutex
		wg      sync.WaitGroup
		errs    []error
		stopped bool
	}
}

// WithContext returns a new Context derived from parent.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	ret := &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
	return ret
}

// Stopping returns a channel that is closed once Stop has been called,
// letting a goroutine launched with Go notice a shutdown request.
// Done() fires on Stop as well, since Stop also cancels the derived
// context, and additionally fires when the parent context is canceled.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Go launches fn in a new goroutine tracked by this Context. Any error
// fn returns (other than context.Canceled, which is expected on a
// normal shutdown) is recorded and surfaced by Stop.
func (c *Context) Go(fn func() error) {
	c.mu.Lock()
	c.mu.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.mu.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			c.mu.Lock()
			c.mu.errs = append(c.mu.errs, err)
			c.mu.Unlock()
		}
	}()
}

// Stop requests a graceful shutdown: it closes the Stopping channel,
// cancels the derived context, and waits up to timeout for every
// tracked goroutine to return. It returns the first non-nil error any
// tracked goroutine returned, if any, regardless of whether the wait
// timed out.
func (c *Context) Stop(timeout time.Duration) error {
	c.once.Do(func() {
		close(c.stopping)
		c.cancel()
	})

	done := make(chan struct{})
	go func() {
		c.mu.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.stopped = true
	if len(c.mu.errs) > 0 {
		return c.mu.errs[0]
	}
	return nil
}
