// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"go.pinniped.dev/safekeeping/internal/plog"
)

// Execute runs the session command until it finishes or the process is interrupted.
// This is called by main.main().
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// We don't want klog flags showing up in our CLI.
	plog.RemoveKlogGlobalFlags(pflag.CommandLine)

	return newSessionCommand(sessionRealDeps()).ExecuteContext(ctx)
}
