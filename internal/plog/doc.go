// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package plog implements a thin layer over logr and klog that enforces the safekeeping logging convention.
// Logs are always structured as a constant message with key and value pairs of related metadata.
// The logging levels in order of increasing verbosity are:
// error, warning, info, debug, trace and all.
// error and warning logs are always emitted and should be actionable, such as a host that could not
// be connected or a keep-alive that failed.
// info is reserved for lifecycle events, such as a token being renewed or a host being connected.
// debug is targeted at developers and support cases.  It must never leak token or keystore contents.
// trace is used for timing and polling details, such as every status poll of an asynchronous operation.
// all may include full request and response bodies, which can carry bearer assertions, and is thus
// unfit for production use.
package plog
