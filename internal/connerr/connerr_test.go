// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package connerr

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantAuth  bool
		wantProto bool
		wantTrans bool
		wantMsg   string
	}{
		{
			name:     "authentication",
			err:      Authentication("issue token", io.EOF),
			wantAuth: true,
			wantMsg:  "authentication failed during issue token: EOF",
		},
		{
			name:      "protocol wrapped",
			err:       fmt.Errorf("outer: %w", Protocol("parse assertion", io.ErrUnexpectedEOF)),
			wantProto: true,
			wantMsg:   "outer: protocol error during parse assertion: unexpected EOF",
		},
		{
			name:      "transport",
			err:       Transport("handshake", errors.New("connection refused")),
			wantTrans: true,
			wantMsg:   "transport error during handshake: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.wantAuth, IsAuthentication(tt.err))
			require.Equal(t, tt.wantProto, IsProtocol(tt.err))
			require.Equal(t, tt.wantTrans, IsTransport(tt.err))
			require.EqualError(t, tt.err, tt.wantMsg)
		})
	}
}

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, FromHTTPStatus("login", http.StatusOK, ""))
	require.NoError(t, FromHTTPStatus("login", http.StatusNoContent, "ignored"))

	err := FromHTTPStatus("login", http.StatusUnauthorized, "bad token")
	require.True(t, IsAuthentication(err))
	require.EqualError(t, err, "authentication failed during login: unexpected status 401 Unauthorized: bad token")

	require.True(t, IsAuthentication(FromHTTPStatus("login", http.StatusForbidden, "")))
	require.True(t, IsTransport(FromHTTPStatus("login", http.StatusServiceUnavailable, "")))
	require.True(t, IsProtocol(FromHTTPStatus("login", http.StatusNotFound, "")))
}

func TestPartialConnectionError(t *testing.T) {
	t.Parallel()

	refused := Transport("login storage profile service", errors.New("connection refused"))
	err := error(&PartialConnectionError{
		HostID: "H2",
		Failed: map[string]error{
			"storage profile service": refused,
			"automation service":      Authentication("login automation service", io.EOF),
		},
	})

	require.EqualError(t, err, "host H2 partially connected, failed sub-services: "+
		"automation service: authentication failed during login automation service: EOF; "+
		"storage profile service: transport error during login storage profile service: connection refused")
	require.True(t, IsPartial(err))
	require.True(t, IsTransport(err))
	require.True(t, IsAuthentication(err))
	require.ErrorIs(t, err, refused)
}
