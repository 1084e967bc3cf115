// Copyright 2021-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package tlsserver

import (
	"crypto/tls"
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.pinniped.dev/safekeeping/internal/certauthority"
	"go.pinniped.dev/safekeeping/internal/crypto/ptls"
)

func TLSTestServer(t *testing.T, handler http.Handler, f func(*httptest.Server)) *httptest.Server {
	t.Helper()

	server := httptest.NewUnstartedServer(handler)
	server.TLS = ptls.Default(nil) // mimic the client config
	if f != nil {
		f(server)
	}
	server.StartTLS()
	t.Cleanup(server.Close)
	return server
}

// TLSTestServerWithCert starts a server whose certificate is issued by ca for the given common name,
// and which is valid for localhost and 127.0.0.1 so that clients can verify it against ca.Pool().
func TLSTestServerWithCert(t *testing.T, ca *certauthority.CA, commonName string, handler http.Handler) *httptest.Server {
	t.Helper()

	serving, err := ca.IssueServerCert(commonName, []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback}, time.Hour)
	require.NoError(t, err)

	return TLSTestServer(t, handler, func(server *httptest.Server) {
		server.TLS.Certificates = []tls.Certificate{*serving}
	})
}

func TLSTestServerCA(server *httptest.Server) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: server.Certificate().Raw,
	})
}
