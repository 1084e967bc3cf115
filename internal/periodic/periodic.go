// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package periodic runs cancellable background work on a fixed interval.
package periodic

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Task is a running periodic background worker.  It is owned by whoever started it.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start calls fn once per interval until ctx is cancelled or Stop is called.
// The first call happens one interval after Start returns.  Calls never overlap.
func Start(ctx context.Context, clk clock.WithTicker, interval time.Duration, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	ticker := clk.NewTicker(interval)

	go func() {
		defer close(t.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()

	return t
}

// Stop cancels the task and waits for any in-flight call to return.
// It is safe to call more than once and on a nil Task.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has fully stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
