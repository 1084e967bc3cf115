// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main is a diagnostic entrypoint that opens sessions to every configured host, optionally waits
// for a remote operation, and then closes everything again.
package main

import (
	"os"

	"go.pinniped.dev/safekeeping/cmd/safekeeping-session/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
