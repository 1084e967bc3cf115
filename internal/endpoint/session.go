// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
)

const ErrSessionClosed = constable.Error("session is closed")

// Placement is where a credential travels on a request.
type Placement int

const (
	PlaceCookie Placement = iota
	PlaceHeader
	// PlaceSOAPHeader credentials are an element of the SOAP header rather than part of the HTTP request.
	PlaceSOAPHeader
)

// Credential is what authenticates calls on a session.
type Credential struct {
	Name      string
	Value     string
	Placement Placement
}

// IsZero reports whether there is no credential.
func (c Credential) IsZero() bool {
	return c.Value == ""
}

// Apply adds a cookie or header credential to req.
func (c Credential) Apply(req *http.Request) {
	if c.IsZero() {
		return
	}
	switch c.Placement {
	case PlaceCookie:
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	case PlaceHeader:
		req.Header.Set(c.Name, c.Value)
	}
}

// SOAPHeader renders a SOAP header credential as its header element, and returns nil for any other placement.
func (c Credential) SOAPHeader() []byte {
	if c.IsZero() || c.Placement != PlaceSOAPHeader {
		return nil
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<%s>", c.Name)
	_ = xml.EscapeText(&buf, []byte(c.Value))
	fmt.Fprintf(&buf, "</%s>", c.Name)
	return buf.Bytes()
}

// String never reveals the value.
func (c Credential) String() string {
	switch {
	case c.IsZero():
		return "<none>"
	case c.Placement == PlaceCookie:
		return "cookie " + c.Name + "=<redacted>"
	case c.Placement == PlaceSOAPHeader:
		return "soap header " + c.Name + ": <redacted>"
	default:
		return "header " + c.Name + ": <redacted>"
	}
}

// Session is an authenticated session to one service of one host.  The credential may be replaced
// while calls are in flight, so it is only ever read and written under the session's lock.
type Session struct {
	kind   Kind
	url    *url.URL
	client *http.Client

	mu         sync.RWMutex
	credential Credential
	closed     bool
}

func NewSession(kind Kind, u *url.URL, client *http.Client, credential Credential) *Session {
	return &Session{kind: kind, url: u, client: client, credential: credential}
}

func (s *Session) Kind() Kind { return s.kind }

// URL is the service endpoint.  Callers must not modify it.
func (s *Session) URL() *url.URL { return s.url }

func (s *Session) Client() *http.Client { return s.client }

func (s *Session) Credential() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// SetCredential replaces the credential unless the session has been closed.
func (s *Session) SetCredential(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.credential = c
	}
}

// Active reports whether the session is open and holds a credential.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && !s.credential.IsZero()
}

// Close forgets the credential.  It does not log out on the host; see Dialer.Logout.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.credential = Credential{}
}

// Do sends an opaque call through the session with the current credential attached.
func (s *Session) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	op := s.kind.String() + " call"

	s.mu.RLock()
	closed, credential := s.closed, s.credential
	s.mu.RUnlock()
	if closed {
		return nil, connerr.Protocol(op, ErrSessionClosed)
	}

	req = req.Clone(ctx)
	credential.Apply(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, connerr.Transport(op, err)
	}
	return resp, nil
}
