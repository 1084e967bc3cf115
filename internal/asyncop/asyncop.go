// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package asyncop waits for long-running remote operations to finish.
package asyncop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.pinniped.dev/safekeeping/internal/constable"
)

// State is the lifecycle state of a remote operation.
type State string

const (
	Queued  State = "queued"
	Running State = "running"
	Success State = "success"
	Error   State = "error"
)

// Terminal reports whether the operation will not change state again.
func (s State) Terminal() bool {
	return s == Success || s == Error
}

// Status is one observation of a remote operation.
type Status struct {
	State State
	// Progress is the completion percentage, when the remote side reports one.
	Progress *int32
	// Message is the fault reported by the remote side for operations in the Error state.
	Message string
}

// StatusSource reads the current status of a remote operation.
type StatusSource interface {
	OperationStatus(ctx context.Context, id string) (*Status, error)
}

const ErrHandleBusy = constable.Error("operation is already being waited on")

// Handle identifies a submitted remote operation on the host that runs it.
// A handle may be waited on again after a wait returns, but never by two waits at once.
type Handle struct {
	id      string
	source  StatusSource
	waiting atomic.Bool
}

func NewHandle(id string, source StatusSource) *Handle {
	return &Handle{id: id, source: source}
}

func (h *Handle) ID() string { return h.id }

// RemoteError is an operation that finished in the Error state.
type RemoteError struct {
	OperationID string
	Message     string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.OperationID, e.Message)
}

// TimeoutError means the operation was still running when the wait gave up.  The operation itself may still succeed.
type TimeoutError struct {
	OperationID string
	MaxWait     time.Duration
	LastState   State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gave up waiting for operation %s after %s, last state %q", e.OperationID, e.MaxWait, e.LastState)
}

// CancelledError means the caller stopped the wait.  LastState is the result of the final status check.
type CancelledError struct {
	OperationID string
	LastState   State
	Err         error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("stopped waiting for operation %s, last state %q: %v", e.OperationID, e.LastState, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }
