// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"go.pinniped.dev/safekeeping/internal/certauthority"
	"go.pinniped.dev/safekeeping/internal/config/safekeeping"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/here"
	"go.pinniped.dev/safekeeping/internal/plog"
)

type files struct {
	dir, certFile, keyFile, caFile, tokenFile string
}

func writeFiles(t *testing.T) files {
	t.Helper()

	ca, err := certauthority.New("test-ca", time.Hour)
	require.NoError(t, err)
	pair, err := ca.IssueSigningCertPEM("solution-user", certauthority.ECDSA, time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	f := files{
		dir:       dir,
		certFile:  filepath.Join(dir, "tls.crt"),
		keyFile:   filepath.Join(dir, "tls.key"),
		caFile:    filepath.Join(dir, "ca.pem"),
		tokenFile: filepath.Join(dir, "refresh-token"),
	}
	require.NoError(t, os.WriteFile(f.certFile, pair.CertPEM, 0o600))
	require.NoError(t, os.WriteFile(f.keyFile, pair.KeyPEM, 0o600))
	require.NoError(t, os.WriteFile(f.caFile, ca.Bundle(), 0o600))
	require.NoError(t, os.WriteFile(f.tokenFile, []byte("refresh"), 0o600))
	return f
}

func loadConfig(t *testing.T, dir, yaml string) *safekeeping.Config {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := safekeeping.FromPath(path)
	require.NoError(t, err)
	return cfg
}

func TestNewCertificateWithStaticHosts(t *testing.T) {
	f := writeFiles(t)
	cfg := loadConfig(t, f.dir, here.Docf(`
		identityProvider:
		  host: sso.example.com
		  caBundleFile: %s
		hosts:
		- id: vc-1
		  url: https://vc1.example.com
		- id: vc-2
		  url: https://vc2.example.com
		credentials:
		  source: certificate
		  certificate:
		    certFile: %s
		    keyFile: %s
		services:
		  automation: false
	`, f.caFile, f.certFile, f.keyFile))

	logger, _ := plog.TestLogger(t)
	reg := prometheus.NewPedanticRegistry()
	stack, err := New(cfg, Options{
		Clock:      clocktesting.NewFakeClock(time.Now()),
		Logger:     logger,
		Registerer: reg,
	})
	require.NoError(t, err)

	require.Equal(t, "certificate-hok", stack.Provider.Name())
	require.NotNil(t, stack.Provider.Signer())
	require.Nil(t, stack.Provider.Token())

	hosts, err := stack.Lookup.Hosts(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	require.Equal(t, "vc-1", hosts[0].ID)
	require.Equal(t, "vc-2", hosts[1].ID)

	require.NotNil(t, stack.Dialer)
	require.NotNil(t, stack.Waiter)
	require.NotNil(t, stack.Metrics)
	require.Nil(t, stack.Registry.Default())
	require.Empty(t, stack.Registry.Connections())

	stack.Metrics.ConnectedHosts(0)
	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	_, err = New(cfg, Options{Registerer: reg})
	require.ErrorContains(t, err, "could not register metrics: ")
}

func TestNewRefreshTokenWithDiscovery(t *testing.T) {
	f := writeFiles(t)
	cfg := loadConfig(t, f.dir, here.Docf(`
		identityProvider:
		  host: sso.example.com
		  tokenExchange:
		    tokenURL: https://login.example.com/oauth2/token
		    clientID: safekeeping
		credentials:
		  source: refreshToken
		  refreshToken:
		    tokenFile: %s
	`, f.tokenFile))

	logger, _ := plog.TestLogger(t)
	stack, err := New(cfg, Options{Logger: logger})
	require.NoError(t, err)

	require.Equal(t, "token-exchange", stack.Provider.Name())
	require.Nil(t, stack.Provider.Signer())
	require.Nil(t, stack.Metrics)

	lookup, ok := stack.Lookup.(*directory.LookupService)
	require.True(t, ok)
	require.Equal(t, "https://sso.example.com:443/lookupservice/sdk", lookup.URL)
}

func TestNewFailures(t *testing.T) {
	f := writeFiles(t)
	notPEM := filepath.Join(f.dir, "not-pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("hello"), 0o600))

	tests := []struct {
		name      string
		yaml      string
		wantError string
	}{
		{
			name: "CA bundle without certificates",
			yaml: here.Docf(`
				identityProvider:
				  host: sso.example.com
				  caBundleFile: %s
				credentials:
				  source: certificate
				  certificate:
				    certFile: %s
				    keyFile: %s
			`, notPEM, f.certFile, f.keyFile),
			wantError: "could not load CA bundle: " + notPEM + ": no certificates found",
		},
		{
			name: "unreadable key pair",
			yaml: here.Docf(`
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: certificate
				  certificate:
				    certFile: %s
				    keyFile: %s
			`, f.certFile, notPEM),
			wantError: "could not load credentials: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfig(t, t.TempDir(), tt.yaml)
			_, err := New(cfg, Options{})
			require.ErrorContains(t, err, tt.wantError)
		})
	}
}
