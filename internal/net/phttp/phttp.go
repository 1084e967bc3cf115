// Copyright 2021-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package phttp builds the HTTP clients used to talk to the identity provider and to hosts.
package phttp

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/transport"

	"go.pinniped.dev/safekeeping/internal/crypto/ptls"
	"go.pinniped.dev/safekeeping/internal/plog"
)

// DefaultTimeout bounds every request made by clients that were not given an explicit timeout.
const DefaultTimeout = 60 * time.Second

// Default returns a client that verifies servers against rootCAs (or the system pool when nil).
// A zero timeout means DefaultTimeout.
func Default(rootCAs *x509.CertPool, timeout time.Duration) *http.Client {
	return buildClient(ptls.Default, rootCAs, timeout)
}

func buildClient(tlsConfigFunc ptls.ConfigFunc, rootCAs *x509.CertPool, timeout time.Duration) *http.Client {
	baseRT := defaultTransport()
	baseRT.TLSClientConfig = tlsConfigFunc(rootCAs)

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: defaultWrap(baseRT),
		Timeout:   timeout, // a hung handshake only ever blocks its own worker until this elapses
	}
}

func defaultTransport() *http.Transport {
	baseRT := http.DefaultTransport.(*http.Transport).Clone()
	net.SetTransportDefaults(baseRT)
	baseRT.MaxIdleConnsPerHost = 25 // copied from client-go
	return baseRT
}

func defaultWrap(rt http.RoundTripper) http.RoundTripper {
	rt = safeDebugWrappers(rt, transport.DebugWrappers, func() bool { return plog.Enabled(plog.LevelAll) })
	rt = transport.NewUserAgentRoundTripper(userAgent(), rt)
	return rt
}

func userAgent() string {
	return fmt.Sprintf("safekeeping (%s/%s) go/%s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}
