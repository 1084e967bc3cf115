// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package connerr holds the error taxonomy shared by the token providers, the host connections and the registry.
package connerr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// AuthenticationError means that credentials were rejected by the identity provider or a host.
// It is never retried automatically.
type AuthenticationError struct {
	Op  string
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ProtocolError means that a remote party sent a malformed or unexpected response.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError is a network or TLS level failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PartialConnectionError is returned when the primary session of a host succeeded
// but at least one of its sub-service sessions did not.  The host is never admitted.
type PartialConnectionError struct {
	HostID string
	// Failed maps the display name of each failed sub-service to its error.
	Failed map[string]error
}

func (e *PartialConnectionError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}

	return fmt.Sprintf("host %s partially connected, failed sub-services: %s", e.HostID, strings.Join(parts, "; "))
}

func (e *PartialConnectionError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		out = append(out, err)
	}
	return out
}

func Authentication(op string, err error) error { return &AuthenticationError{Op: op, Err: err} }

func Protocol(op string, err error) error { return &ProtocolError{Op: op, Err: err} }

func Transport(op string, err error) error { return &TransportError{Op: op, Err: err} }

func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func IsProtocol(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func IsPartial(err error) bool {
	var target *PartialConnectionError
	return errors.As(err, &target)
}

// FromHTTPStatus classifies a non-2xx response.  It returns nil for 2xx codes.
func FromHTTPStatus(op string, code int, detail string) error {
	if code >= 200 && code < 300 {
		return nil
	}

	err := fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
	if len(detail) > 0 {
		err = fmt.Errorf("%w: %s", err, detail)
	}

	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return Authentication(op, err)
	case code >= 500:
		return Transport(op, err)
	default:
		return Protocol(op, err)
	}
}
