// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/bootstrap"
	"go.pinniped.dev/safekeeping/internal/config/safekeeping"
	"go.pinniped.dev/safekeeping/internal/connregistry"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/plog"
)

type sessionDeps struct {
	loadConfig   func(path string) (*safekeeping.Config, error)
	setupLogging func(ctx context.Context, spec plog.LogSpec) error
	buildStack   func(cfg *safekeeping.Config, opts bootstrap.Options) (*bootstrap.Stack, error)
	clock        clock.WithTicker
	logger       plog.Logger

	stdinIsTTY      func() bool
	promptForSecret func(promptLabel string, out io.Writer) (string, error)
}

func sessionRealDeps() sessionDeps {
	return sessionDeps{
		loadConfig:   safekeeping.FromPath,
		setupLogging: plog.ValidateAndSetLogLevelAndFormatGlobally,
		buildStack:   bootstrap.New,
		clock:        clock.RealClock{},
		logger:       plog.New(),

		stdinIsTTY:      func() bool { return term.IsTerminal(stdin()) },
		promptForSecret: promptForSecret,
	}
}

type sessionFlags struct {
	configPath string
	hostID     string
	operation  string
	hold       time.Duration
}

func newSessionCommand(deps sessionDeps) *cobra.Command {
	cmd := &cobra.Command{
		Args:         cobra.NoArgs, // do not accept positional arguments for this command
		Use:          "safekeeping-session",
		Short:        "Connect to every configured host, report the sessions and disconnect",
		SilenceUsage: true, // do not print usage message when commands fail
	}
	flags := &sessionFlags{}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Path to the configuration file")
	f.StringVar(&flags.hostID, "host", "", "Host to wait on (default: the default host)")
	f.StringVar(&flags.operation, "operation", "", "Wait for the remote operation with this id before disconnecting")
	f.DurationVar(&flags.hold, "hold", 0, "Keep the sessions open this long before disconnecting (default: 0, meaning disconnect right away)")
	mustMarkRequired(cmd, "config")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runSession(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), deps, flags)
	}

	return cmd
}

func mustMarkRequired(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			panic(err)
		}
	}
}

func runSession(ctx context.Context, out, errOut io.Writer, deps sessionDeps, flags *sessionFlags) error {
	cfg, err := deps.loadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	// An interactive user may leave the keystore password out of the file and the environment.
	if ks := cfg.Credentials.Keystore; cfg.Credentials.Source == federation.SourceKeystore && ks != nil && ks.Password == "" && deps.stdinIsTTY() {
		if ks.Password, err = deps.promptForSecret("Keystore password: ", errOut); err != nil {
			return fmt.Errorf("could not read keystore password: %w", err)
		}
	}

	if err := deps.setupLogging(ctx, cfg.Log); err != nil {
		return fmt.Errorf("could not configure logging: %w", err)
	}
	log := deps.logger.WithName("safekeeping-session")

	stack, err := deps.buildStack(cfg, bootstrap.Options{
		Clock:      deps.clock,
		Logger:     log,
		Registerer: prometheus.NewRegistry(),
		OnClassified: func(hostID string, class directory.DeploymentClass) {
			log.Info("host classified", "hostID", hostID, "class", class)
		},
	})
	if err != nil {
		return fmt.Errorf("could not set up sessions: %w", err)
	}

	result, err := stack.Registry.Connect(ctx)
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	defer func() {
		disconnected, _ := stack.Registry.Disconnect(context.WithoutCancel(ctx))
		_, _ = fmt.Fprintf(out, "disconnect: %s\n", describe(disconnected))
	}()

	_, _ = fmt.Fprintf(out, "connect: %s\n", describe(result))
	for _, conn := range stack.Registry.Connections() {
		_, _ = fmt.Fprintf(out, "host %s: url=%s class=%s thumbprint=%s apiVersion=%s\n",
			conn.ID(), conn.URL().Redacted(), conn.DeploymentClass(), conn.Thumbprint(), conn.Metadata().APIVersion)
	}
	failures := stack.Registry.Failures()
	failedIDs := make([]string, 0, len(failures))
	for id := range failures {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)
	for _, id := range failedIDs {
		_, _ = fmt.Fprintf(out, "host %s failed: %v\n", id, failures[id])
	}

	if flags.operation != "" {
		if err := waitForOperation(ctx, out, stack, flags); err != nil {
			return err
		}
	}

	if flags.hold > 0 {
		select {
		case <-ctx.Done():
		case <-deps.clock.After(flags.hold):
		}
	}

	return nil
}

func waitForOperation(ctx context.Context, out io.Writer, stack *bootstrap.Stack, flags *sessionFlags) error {
	conn := stack.Registry.Connection(flags.hostID)
	if conn == nil {
		return fmt.Errorf("host %q is not connected", flags.hostID)
	}

	status, err := stack.Waiter.Wait(ctx, conn.Operation(flags.operation), asyncop.WithProgress(func(percent int32) error {
		_, err := fmt.Fprintf(out, "operation %s: %d%%\n", flags.operation, percent)
		return err
	}))
	if err != nil {
		return fmt.Errorf("could not wait for operation on host %s: %w", conn.ID(), err)
	}

	_, _ = fmt.Fprintf(out, "operation %s: %s\n", flags.operation, status.State)
	return nil
}

func describe(result *connregistry.Result) string {
	if result.Reason == "" {
		return string(result.Status)
	}
	return fmt.Sprintf("%s (%s)", result.Status, result.Reason)
}

func stdin() int { return int(os.Stdin.Fd()) }

// promptForSecret interactively prompts the user for a secret value, obscuring their input while reading it.
// This can be replaced by a mock implementation for unit tests.
func promptForSecret(promptLabel string, out io.Writer) (string, error) {
	if _, err := fmt.Fprint(out, promptLabel); err != nil {
		return "", fmt.Errorf("could not print prompt to stderr: %w", err)
	}
	password, err := term.ReadPassword(stdin())
	if err != nil {
		return "", fmt.Errorf("could not read password: %w", err)
	}
	// term.ReadPassword swallows the newline typed by the user.
	if _, err := fmt.Fprint(out, "\n"); err != nil {
		return "", fmt.Errorf("could not print newline to stderr: %w", err)
	}
	return string(password), nil
}
