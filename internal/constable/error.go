// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package constable provides a string based error type so that sentinel errors can be declared as constants.
package constable

var _ error = Error("")

// Error is an error that can be declared with const and compared with errors.Is.
type Error string

func (e Error) Error() string {
	return string(e)
}
