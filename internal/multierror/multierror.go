// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package multierror provides a type that can translate multiple errors into a Go error interface.
//
// A common use of this package is as follows.
//
//	errs := multierror.New()
//	for _, host := range hosts {
//	  err := connect(host)
//	  errs.AddWithSource(host.ID, err)
//	}
//	return errs.ErrOrNil()
package multierror

import (
	"fmt"
	"strings"
)

// MultiError holds a list of error's, that could potentially be empty.
//
// Use New() to create a MultiError.
type MultiError []error

// New returns an empty MultiError.
func New() MultiError {
	return make([]error, 0)
}

// Add adds an error to the MultiError. Nil errors are ignored so that callers can
// add the result of every worker without checking it first.
func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	*m = append(*m, err)
}

// AddWithSource adds err annotated with the name of the thing that produced it,
// e.g. a host id or a sub-service name. Nil errors are ignored.
func (m *MultiError) AddWithSource(source string, err error) {
	if err == nil {
		return
	}
	m.Add(&sourcedError{source: source, err: err})
}

// Error implements the error.Error() interface method.
func (m MultiError) Error() string {
	sb := strings.Builder{}
	_, _ = fmt.Fprintf(&sb, "%d error(s):", len(m))
	for _, err := range m {
		_, _ = fmt.Fprintf(&sb, "\n- %s", err.Error())
	}
	return sb.String()
}

// Reason returns a single line, human-readable concatenation of every error.
func (m MultiError) Reason() string {
	reasons := make([]string, 0, len(m))
	for _, err := range m {
		reasons = append(reasons, err.Error())
	}
	return strings.Join(reasons, "; ")
}

// Unwrap allows errors.Is and errors.As to inspect every contained error.
func (m MultiError) Unwrap() []error {
	return m
}

// ErrOrNil returns either nil, if there are no errors in this MultiError, or an error, otherwise.
func (m MultiError) ErrOrNil() error {
	if len(m) > 0 {
		return m
	}
	return nil
}

type sourcedError struct {
	source string
	err    error
}

func (e *sourcedError) Error() string {
	return e.source + ": " + e.err.Error()
}

func (e *sourcedError) Unwrap() error {
	return e.err
}
