// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ptls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"
)

// Dialer performs a bare TLS handshake so that callers can inspect the certificate a host presents.
type Dialer interface {
	PeerCertificates(ctx context.Context, address string, certPool *x509.CertPool) ([]*x509.Certificate, error)
}

type ErrorOnlyLogger interface {
	Error(msg string, err error, keysAndValues ...any)
}

type internalDialer struct {
	dialer *net.Dialer
	logger ErrorOnlyLogger
}

func NewDialer(logger ErrorOnlyLogger) *internalDialer {
	return &internalDialer{
		dialer: &net.Dialer{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (i *internalDialer) WithTimeout(timeout time.Duration) Dialer {
	i.dialer.Timeout = timeout
	return i
}

// PeerCertificates returns the verified chain presented by the server at address, leaf first.
func (i *internalDialer) PeerCertificates(ctx context.Context, address string, certPool *x509.CertPool) ([]*x509.Certificate, error) {
	d := &tls.Dialer{NetDialer: i.dialer, Config: Default(certPool)}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		// Don't wrap this error message since this is just a helper function.
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil { // untested
			// Log it just so that it doesn't completely disappear.
			i.logger.Error("failed to close connection", err, "address", address)
		}
	}()

	return conn.(*tls.Conn).ConnectionState().PeerCertificates, nil
}
