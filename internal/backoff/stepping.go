// Copyright 2023-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package backoff

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

type Stepper interface {
	Step() time.Duration
}

func wrapConditionWithNoPanics(ctx context.Context, condition wait.ConditionWithContextFunc) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if err2, ok := r.(error); ok {
				err = err2
				return
			}
		}
	}()

	return condition(ctx)
}

// WithContext runs condition until it reports done, returns an error, or ctx is done.
// The waits between attempts are measured on clk so that tests can drive them with a fake clock.
func WithContext(ctx context.Context, clk clock.Clock, backoff Stepper, condition wait.ConditionWithContextFunc) error {
	// Loop forever, unless we reach one of the return statements below.
	for {
		// Stop if the context is done.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Stop trying unless the condition function returns false.
		// Allow cancellation during the attempt if the condition function respects the ctx.
		if ok, err := wrapConditionWithNoPanics(ctx, condition); err != nil || ok {
			return err
		}

		// Calculate how long to wait before the next step.
		waitBeforeRetry := backoff.Step()

		// Wait before running again, allowing cancellation during the wait.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(waitBeforeRetry):
		}
	}
}
