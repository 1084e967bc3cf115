// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"k8s.io/apimachinery/pkg/util/sets"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/bootstrap"
	"go.pinniped.dev/safekeeping/internal/cert"
	"go.pinniped.dev/safekeeping/internal/certauthority"
	"go.pinniped.dev/safekeeping/internal/config/safekeeping"
	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/connregistry"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/endpoint"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/hostconn"
	"go.pinniped.dev/safekeeping/internal/mocks/mockdialer"
	"go.pinniped.dev/safekeeping/internal/mocks/mocklookup"
	"go.pinniped.dev/safekeeping/internal/mocks/mockprovider"
	"go.pinniped.dev/safekeeping/internal/plog"
)

type fakeStack struct {
	provider *mockprovider.MockProvider
	lookup   *mocklookup.MockLookup
	dialer   *mockdialer.MockDialer
	clock    *clocktesting.FakeClock

	config    *safekeeping.Config
	tty       bool
	promptErr error
	built     *safekeeping.Config
}

func newFakeStack(t *testing.T) *fakeStack {
	t.Helper()
	ctrl := gomock.NewController(t)
	s := &fakeStack{
		provider: mockprovider.NewMockProvider(ctrl),
		lookup:   mocklookup.NewMockLookup(ctrl),
		dialer:   mockdialer.NewMockDialer(ctrl),
		clock:    clocktesting.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	s.dialer.EXPECT().HTTPClient().Return(&http.Client{}).AnyTimes()
	s.provider.EXPECT().Signer().Return(nil).AnyTimes()
	s.provider.EXPECT().Name().Return("certificate-bearer").AnyTimes()
	return s
}

func (s *fakeStack) build(cfg *safekeeping.Config, opts bootstrap.Options) (*bootstrap.Stack, error) {
	s.built = cfg
	registry := connregistry.New(s.provider, s.lookup, s.dialer, connregistry.Options{
		Host: hostconn.Options{
			Lifetime: 10 * time.Minute,
			Services: sets.New[endpoint.Kind](),
			Clock:    s.clock,
		},
		OnClassified: opts.OnClassified,
		Logger:       opts.Logger,
	})
	return &bootstrap.Stack{
		Provider: s.provider,
		Lookup:   s.lookup,
		Registry: registry,
		Waiter:   asyncop.NewWaiter(asyncop.Config{Clock: s.clock, Logger: opts.Logger}),
	}, nil
}

func (s *fakeStack) deps(t *testing.T, loadErr error) sessionDeps {
	logger, _ := plog.TestLogger(t)
	return sessionDeps{
		loadConfig: func(path string) (*safekeeping.Config, error) {
			if loadErr != nil {
				return nil, loadErr
			}
			require.Equal(t, "/etc/safekeeping/config.yaml", path)
			if s.config != nil {
				return s.config, nil
			}
			return &safekeeping.Config{}, nil
		},
		setupLogging: func(context.Context, plog.LogSpec) error { return nil },
		buildStack:   s.build,
		clock:        s.clock,
		logger:       logger,
		stdinIsTTY:   func() bool { return s.tty },
		promptForSecret: func(promptLabel string, out io.Writer) (string, error) {
			require.Equal(t, "Keystore password: ", promptLabel)
			_, _ = fmt.Fprint(out, promptLabel)
			return "typed-password", s.promptErr
		},
	}
}

func TestSessionCommand(t *testing.T) {
	ca, err := certauthority.New("hosts CA", time.Hour)
	require.NoError(t, err)
	serving, err := ca.IssueServerCert("h1.example.com", []string{"h1.example.com"}, nil, time.Hour)
	require.NoError(t, err)
	hostURL, err := url.Parse("https://h1.example.com")
	require.NoError(t, err)
	h1 := directory.HostDescriptor{ID: "H1", URL: hostURL}
	token := &federation.SecurityToken{Assertion: []byte("<saml2:Assertion/>"), ID: "_assertion-1", Kind: federation.Bearer}

	expectConnected := func(s *fakeStack) {
		s.provider.EXPECT().Connect(gomock.Any()).Return(token, nil)
		s.lookup.EXPECT().Hosts(gomock.Any()).Return([]directory.HostDescriptor{h1}, nil)
		s.dialer.EXPECT().Handshake(gomock.Any(), hostURL).Return([]*x509.Certificate{serving.Leaf}, nil)
		s.dialer.EXPECT().LoginByToken(gomock.Any(), hostURL, token, nil).
			Return(endpoint.Credential{Name: "vmware_soap_session", Value: "cookie", Placement: endpoint.PlaceCookie}, nil)
		s.dialer.EXPECT().About(gomock.Any(), gomock.Any()).Return(&endpoint.HostMetadata{APIVersion: "8.0.2.0"}, nil)
		s.provider.EXPECT().StartRenewalLoop(gomock.Any(), gomock.Any())
	}
	expectDisconnected := func(s *fakeStack) {
		s.dialer.EXPECT().Logout(gomock.Any(), gomock.Any()).Return(nil)
		s.provider.EXPECT().Disconnect()
	}
	hostLine := "host H1: url=https://h1.example.com class=on-premises thumbprint=" + cert.Thumbprint(serving.Leaf) + " apiVersion=8.0.2.0\n"

	tests := []struct {
		name       string
		args       []string
		loadErr    error
		setup      func(s *fakeStack)
		wantError  string
		wantStdout string
		wantStderr string
		wantBuilt  func(t *testing.T, cfg *safekeeping.Config)
	}{
		{
			name:       "help flag passed",
			args:       []string{"--help"},
			wantStdout: "Connect to every configured host, report the sessions and disconnect",
		},
		{
			name:      "config flag missing",
			args:      []string{},
			wantError: `required flag(s) "config" not set`,
		},
		{
			name:      "positional arguments",
			args:      []string{"--config", "/etc/safekeeping/config.yaml", "extra"},
			wantError: `unknown command "extra" for "safekeeping-session"`,
		},
		{
			name:      "config cannot be loaded",
			args:      []string{"--config", "/etc/safekeeping/config.yaml"},
			loadErr:   errors.New("read file: no such file"),
			wantError: "could not load config: read file: no such file",
		},
		{
			name: "identity provider rejects the credentials",
			args: []string{"--config", "/etc/safekeeping/config.yaml"},
			setup: func(s *fakeStack) {
				s.provider.EXPECT().Connect(gomock.Any()).Return(nil, connerr.Authentication("issue token", errors.New("InvalidCredentials")))
				s.provider.EXPECT().Disconnect()
			},
			wantError: "could not connect: authentication failed during issue token: InvalidCredentials",
		},
		{
			name: "connect and disconnect",
			args: []string{"--config", "/etc/safekeeping/config.yaml"},
			setup: func(s *fakeStack) {
				expectConnected(s)
				expectDisconnected(s)
			},
			wantStdout: "connect: succeeded\n" + hostLine + "disconnect: succeeded\n",
		},
		{
			name: "wait for an operation on the default host",
			args: []string{"--config", "/etc/safekeeping/config.yaml", "--operation", "task-7"},
			setup: func(s *fakeStack) {
				expectConnected(s)
				s.dialer.EXPECT().OperationStatus(gomock.Any(), gomock.Any(), "task-7").
					Return(&asyncop.Status{State: asyncop.Success, Progress: ptr.To[int32](100)}, nil)
				expectDisconnected(s)
			},
			wantStdout: "connect: succeeded\n" + hostLine +
				"operation task-7: 100%\n" +
				"operation task-7: success\n" +
				"disconnect: succeeded\n",
		},
		{
			name: "operation failed remotely",
			args: []string{"--config", "/etc/safekeeping/config.yaml", "--operation", "task-8"},
			setup: func(s *fakeStack) {
				expectConnected(s)
				s.dialer.EXPECT().OperationStatus(gomock.Any(), gomock.Any(), "task-8").
					Return(&asyncop.Status{State: asyncop.Error, Message: "disk is full"}, nil)
				expectDisconnected(s)
			},
			wantError:  "could not wait for operation on host H1: operation task-8 failed: disk is full",
			wantStdout: "connect: succeeded\n" + hostLine + "disconnect: succeeded\n",
		},
		{
			name: "operation on an unknown host",
			args: []string{"--config", "/etc/safekeeping/config.yaml", "--operation", "task-9", "--host", "H9"},
			setup: func(s *fakeStack) {
				expectConnected(s)
				expectDisconnected(s)
			},
			wantError:  `host "H9" is not connected`,
			wantStdout: "connect: succeeded\n" + hostLine + "disconnect: succeeded\n",
		},
		{
			name: "keystore password is prompted for on a terminal",
			args: []string{"--config", "/etc/safekeeping/config.yaml"},
			setup: func(s *fakeStack) {
				s.config = keystoreConfig()
				s.tty = true
				expectConnected(s)
				expectDisconnected(s)
			},
			wantStdout: "connect: succeeded\n" + hostLine + "disconnect: succeeded\n",
			wantStderr: "Keystore password: ",
			wantBuilt: func(t *testing.T, cfg *safekeeping.Config) {
				require.Equal(t, "typed-password", cfg.Credentials.Keystore.Password)
			},
		},
		{
			name: "keystore password is not prompted for without a terminal",
			args: []string{"--config", "/etc/safekeeping/config.yaml"},
			setup: func(s *fakeStack) {
				s.config = keystoreConfig()
				expectConnected(s)
				expectDisconnected(s)
			},
			wantStdout: "connect: succeeded\n" + hostLine + "disconnect: succeeded\n",
			wantBuilt: func(t *testing.T, cfg *safekeeping.Config) {
				require.Empty(t, cfg.Credentials.Keystore.Password)
			},
		},
		{
			name: "keystore password prompt fails",
			args: []string{"--config", "/etc/safekeeping/config.yaml"},
			setup: func(s *fakeStack) {
				s.config = keystoreConfig()
				s.tty = true
				s.promptErr = errors.New("could not read password: EOF")
			},
			wantError:  "could not read keystore password: could not read password: EOF",
			wantStderr: "Keystore password: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeStack(t)
			if tt.setup != nil {
				tt.setup(s)
			}

			cmd := newSessionCommand(s.deps(t, tt.loadErr))
			require.NotNil(t, cmd)

			var stdout, stderr bytes.Buffer
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)
			cmd.SetArgs(tt.args)

			err := cmd.ExecuteContext(context.Background())
			if tt.wantError != "" {
				require.EqualError(t, err, tt.wantError)
			} else {
				require.NoError(t, err)
			}
			if tt.name == "help flag passed" {
				require.Contains(t, stdout.String(), tt.wantStdout)
				require.Contains(t, stdout.String(), "--config string")
				require.Contains(t, stdout.String(), "--hold duration")
				return
			}
			require.Equal(t, tt.wantStdout, stdout.String())
			if tt.wantStderr != "" {
				require.Contains(t, stderr.String(), tt.wantStderr)
			}
			if tt.wantBuilt != nil {
				require.NotNil(t, s.built)
				tt.wantBuilt(t, s.built)
			}
		})
	}
}

func keystoreConfig() *safekeeping.Config {
	return &safekeeping.Config{
		Credentials: safekeeping.CredentialsSpec{
			Source:   federation.SourceKeystore,
			Keystore: &safekeeping.KeystoreSpec{Path: "/etc/safekeeping/keystore.p12"},
		},
	}
}
