// Copyright 2021-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package phttp

import (
	"context"
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/net"

	"go.pinniped.dev/safekeeping/internal/certauthority"
	"go.pinniped.dev/safekeeping/internal/testutil/tlsserver"
)

// TestUnwrap ensures that the http.Client structs returned by this package contain
// a transport that can be fully unwrapped to get access to the underlying TLS config.
func TestUnwrap(t *testing.T) {
	t.Parallel()

	ca, err := certauthority.New("test ca", time.Hour)
	require.NoError(t, err)

	c := Default(ca.Pool(), 0)
	require.Equal(t, DefaultTimeout, c.Timeout)

	tlsConfig, err := net.TLSClientConfig(c.Transport)
	require.NoError(t, err)
	require.NotNil(t, tlsConfig)

	require.NotEmpty(t, tlsConfig.NextProtos)
	require.GreaterOrEqual(t, tlsConfig.MinVersion, uint16(tls.VersionTLS12))
	require.Equal(t, ca.Pool(), tlsConfig.RootCAs)
}

func TestClient(t *testing.T) {
	t.Parallel()

	ca, err := certauthority.New("test ca", time.Hour)
	require.NoError(t, err)

	var sawRequest bool
	server := tlsserver.TLSTestServerWithCert(t, ca, "vc01.example.com", http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// use assert instead of require to not break the http.Handler with a panic
		assert.Contains(t, r.Header.Get("user-agent"), "safekeeping (")
		sawRequest = true
	}))

	c := Default(ca.Pool(), 5*time.Second)
	require.Equal(t, 5*time.Second, c.Timeout)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.True(t, sawRequest)
}
