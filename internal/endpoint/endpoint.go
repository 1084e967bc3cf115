// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package endpoint models authenticated sessions to the services a managed host exposes, and the
// transport contract used to open them.
package endpoint

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/url"
	"strings"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/wssecurity"
)

// Kind is a service hosted by a managed host.
type Kind string

const (
	// Inventory is the primary service.  Every other service is reached through its session.
	Inventory     Kind = "inventory"
	StoragePolicy Kind = "storage-policy"
	DiskLifecycle Kind = "disk-lifecycle"
	Automation    Kind = "automation"
)

// SubServices lists every kind other than Inventory in the order they are reported.
func SubServices() []Kind {
	return []Kind{StoragePolicy, DiskLifecycle, Automation}
}

// String is the human readable service name used in failure reasons.
func (k Kind) String() string {
	switch k {
	case Inventory:
		return "inventory service"
	case StoragePolicy:
		return "storage profile service"
	case DiskLifecycle:
		return "disk lifecycle service"
	case Automation:
		return "automation service"
	default:
		return string(k)
	}
}

// Path is where the service is mounted on the host.
func (k Kind) Path() string {
	switch k {
	case StoragePolicy:
		return "/pbm/sdk"
	case DiskLifecycle:
		return "/vslm/sdk"
	case Automation:
		return "/api"
	default:
		return "/sdk"
	}
}

// URL is the service endpoint on the host at base.
func (k Kind) URL(base *url.URL) *url.URL {
	return base.JoinPath(k.Path())
}

// Base undoes URL: it is the host URL, path prefix included, that serviceURL was built from.
func (k Kind) Base(serviceURL *url.URL) *url.URL {
	base := *serviceURL
	// JoinPath leaves the path relative when the host URL has none.
	p := serviceURL.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	base.Path = strings.TrimSuffix(p, k.Path())
	base.RawPath = ""
	return &base
}

// HostMetadata describes the host behind a primary session.
type HostMetadata struct {
	APIVersion   string
	InstanceUUID string
	FullName     string
}

// Dialer is the transport to managed hosts.  Implementations hold no per-session state.
type Dialer interface {
	// Handshake completes a TLS handshake with the host and returns the certificates it presented.
	Handshake(ctx context.Context, host *url.URL) ([]*x509.Certificate, error)
	// LoginByToken opens the primary session.  signer must sign the request when token is holder-of-key.
	LoginByToken(ctx context.Context, host *url.URL, token *federation.SecurityToken, signer wssecurity.Signer) (Credential, error)
	// About reads the host metadata through the primary session.
	About(ctx context.Context, primary *Session) (*HostMetadata, error)
	// LoginService derives the credential of a sub-service from the primary session.
	LoginService(ctx context.Context, kind Kind, primary *Session) (Credential, error)
	// Ping is a trivial round trip that fails when the session is gone.
	Ping(ctx context.Context, session *Session) error
	// Logout ends a session on the host.
	Logout(ctx context.Context, session *Session) error
	// OperationStatus reads the state of a remote operation through the primary session.
	OperationStatus(ctx context.Context, primary *Session, id string) (*asyncop.Status, error)
	// HTTPClient is the client sessions use for their calls.
	HTTPClient() *http.Client
}
