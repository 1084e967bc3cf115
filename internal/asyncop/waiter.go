// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package asyncop

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/metrics"
	"go.pinniped.dev/safekeeping/internal/plog"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWait      = time.Hour

	// finalCheckTimeout bounds the status check made after a wait is cancelled.
	finalCheckTimeout = 10 * time.Second

	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
)

// ProgressFunc receives completion percentages.  Its errors are ignored.
type ProgressFunc func(percent int32) error

type waitOptions struct {
	pollInterval time.Duration
	maxWait      time.Duration
	progress     ProgressFunc
}

type Option func(*waitOptions)

func WithPollInterval(d time.Duration) Option {
	return func(o *waitOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func WithMaxWait(d time.Duration) Option {
	return func(o *waitOptions) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(o *waitOptions) { o.progress = fn }
}

// Config holds the defaults of a Waiter.
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	Clock        clock.Clock
	Logger       plog.Logger
	Metrics      *metrics.Recorder
}

// Waiter polls operations until they finish.  It is safe for concurrent use on different handles.
type Waiter struct {
	defaults waitOptions
	clock    clock.Clock
	log      plog.Logger
	metrics  *metrics.Recorder
}

func NewWaiter(config Config) *Waiter {
	w := &Waiter{
		defaults: waitOptions{pollInterval: DefaultPollInterval, maxWait: DefaultMaxWait},
		clock:    config.Clock,
		log:      config.Logger,
		metrics:  config.Metrics,
	}
	WithPollInterval(config.PollInterval)(&w.defaults)
	WithMaxWait(config.MaxWait)(&w.defaults)
	if w.clock == nil {
		w.clock = clock.RealClock{}
	}
	if w.log == nil {
		w.log = plog.New()
	}
	w.log = w.log.WithName("asyncop")
	return w
}

// Wait polls the operation until it reaches a terminal state, the maximum wait elapses or ctx is done.
// It returns the final status on success, and otherwise exactly one of *RemoteError, *TimeoutError or
// *CancelledError.  Errors from individual polls are logged and the poll is retried on the next interval.
// A poll that sees a terminal state returns it even if ctx was cancelled while it ran.  Once the wait is
// cancelled, the status is checked one last time on a detached context and reported as the LastState of
// the *CancelledError, which may be Success or Error.
func (w *Waiter) Wait(ctx context.Context, h *Handle, opts ...Option) (*Status, error) {
	if !h.waiting.CompareAndSwap(false, true) {
		return nil, ErrHandleBusy
	}
	defer h.waiting.Store(false)

	o := w.defaults
	for _, opt := range opts {
		opt(&o)
	}

	log := w.log.WithValues("operation", h.id)
	deadline := w.clock.Now().Add(o.maxWait)
	lastState := Queued

	for {
		status, err := h.source.OperationStatus(ctx, h.id)
		if err == nil {
			lastState = status.State
			w.reportProgress(log, o.progress, status)
			if status.State.Terminal() {
				return w.finished(log, h, status)
			}
		}
		if ctx.Err() != nil {
			return nil, w.cancelled(ctx, h, log, lastState)
		}
		if err != nil {
			log.WarningErr("could not read operation status, will retry", err)
		}

		remaining := deadline.Sub(w.clock.Now())
		if remaining <= 0 {
			log.Info("gave up waiting for operation", "maxWait", o.maxWait, "state", lastState)
			w.metrics.OperationWait(outcomeTimeout)
			return nil, &TimeoutError{OperationID: h.id, MaxWait: o.maxWait, LastState: lastState}
		}

		select {
		case <-ctx.Done():
			return nil, w.cancelled(ctx, h, log, lastState)
		case <-w.clock.After(min(o.pollInterval, remaining)):
		}
	}
}

func (w *Waiter) finished(log plog.Logger, h *Handle, status *Status) (*Status, error) {
	if status.State == Error {
		log.Info("operation failed", "fault", status.Message)
		w.metrics.OperationWait(outcomeError)
		return status, &RemoteError{OperationID: h.id, Message: status.Message}
	}
	log.Debug("operation succeeded")
	w.metrics.OperationWait(outcomeSuccess)
	return status, nil
}

// cancelled makes one last status check on a context that outlives the caller's, so that an operation
// is never abandoned without its state being known.
func (w *Waiter) cancelled(ctx context.Context, h *Handle, log plog.Logger, lastState State) error {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalCheckTimeout)
	defer cancel()

	status, err := h.source.OperationStatus(checkCtx, h.id)
	if err != nil {
		log.WarningErr("final status check after cancellation failed", err)
	} else {
		lastState = status.State
	}

	log.Info("stopped waiting for operation", "state", lastState)
	w.metrics.OperationWait(outcomeCancelled)
	return &CancelledError{OperationID: h.id, LastState: lastState, Err: context.Cause(ctx)}
}

func (w *Waiter) reportProgress(log plog.Logger, fn ProgressFunc, status *Status) {
	if fn == nil || status.Progress == nil {
		return
	}
	if err := fn(*status.Progress); err != nil {
		log.DebugErr("progress callback failed", err, "progress", *status.Progress)
	}
}
