// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package hostconn holds the authenticated sessions of one managed host: the primary session, the
// sub-service sessions derived from it, and the keep-alive that watches them.
package hostconn

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/cert"
	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/endpoint"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/metrics"
	"go.pinniped.dev/safekeeping/internal/multierror"
	"go.pinniped.dev/safekeeping/internal/periodic"
	"go.pinniped.dev/safekeeping/internal/plog"
	"go.pinniped.dev/safekeeping/internal/wssecurity"
)

const (
	ErrNotConnected     = constable.Error("host is not connected")
	ErrAlreadyConnected = constable.Error("host is already connected")

	opConnect = "connect host"
	opRefresh = "refresh host credentials"
	opVersion = "check API version"
)

type Options struct {
	// Lifetime is the ticket lifetime.  A host is live for this long after its last successful login.
	Lifetime time.Duration
	// KeepAliveInterval defaults to half the lifetime.
	KeepAliveInterval time.Duration
	// Services are the sub-services to open.  Nil means all of them.
	Services sets.Set[endpoint.Kind]
	// MinimumAPIVersion rejects hosts reporting an older API version.
	MinimumAPIVersion *semver.Version

	Clock   clock.WithTicker
	Logger  plog.Logger
	Metrics *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Lifetime <= 0 {
		o.Lifetime = federation.DefaultLifetime
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = o.Lifetime / 2
	}
	if o.Services == nil {
		o.Services = sets.New(endpoint.SubServices()...)
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = plog.New()
	}
	return o
}

// Connection is one managed host.  It is safe for concurrent use.
type Connection struct {
	desc   directory.HostDescriptor
	dialer endpoint.Dialer
	opts   Options
	log    plog.Logger

	// mu guards everything below, but not the credentials inside the sessions, which have their own locks.
	mu          sync.RWMutex
	thumbprint  string
	class       directory.DeploymentClass
	metadata    *endpoint.HostMetadata
	primary     *endpoint.Session
	services    map[endpoint.Kind]*endpoint.Session
	lastRenewal time.Time

	keepAliveMu sync.Mutex
	keepAlive   *periodic.Task
}

var _ asyncop.StatusSource = (*Connection)(nil)

func New(desc directory.HostDescriptor, dialer endpoint.Dialer, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		desc:   desc,
		dialer: dialer,
		opts:   opts,
		log:    opts.Logger.WithName("hostconn").WithValues("hostID", desc.ID),
	}
}

// Connect pins the host certificate, opens the primary session with token and then opens every configured
// sub-service concurrently.  Unless every session opened, whatever did open is logged out again and the
// connection stays disconnected.  A failed sub-service yields a *connerr.PartialConnectionError.
func (c *Connection) Connect(ctx context.Context, token *federation.SecurityToken, signer wssecurity.Signer) error {
	c.mu.RLock()
	connected := c.primary != nil
	c.mu.RUnlock()
	if connected {
		return connerr.Protocol(opConnect, ErrAlreadyConnected)
	}

	certs, err := c.dialer.Handshake(ctx, c.desc.URL)
	if err != nil {
		return err
	}
	if len(certs) == 0 {
		return connerr.Protocol(opConnect, constable.Error("host presented no certificate"))
	}
	thumbprint := cert.Thumbprint(certs[0])
	class := directory.Classify(certs[0])
	c.log.Debug("pinned host certificate", "thumbprint", thumbprint, "deploymentClass", class)

	credential, err := c.dialer.LoginByToken(ctx, c.desc.URL, token, signer)
	if err != nil {
		return err
	}
	primary := endpoint.NewSession(endpoint.Inventory, endpoint.Inventory.URL(c.desc.URL), c.dialer.HTTPClient(), credential)

	metadata, err := c.dialer.About(ctx, primary)
	if err == nil {
		err = c.checkVersion(metadata)
	}
	if err != nil {
		_ = c.rollback(ctx, primary, nil)
		return err
	}

	services, failed := c.openServices(ctx, primary)
	if len(failed) > 0 {
		_ = c.rollback(ctx, primary, services)
		return &connerr.PartialConnectionError{HostID: c.desc.ID, Failed: failed}
	}

	c.mu.Lock()
	c.thumbprint = thumbprint
	c.class = class
	c.metadata = metadata
	c.primary = primary
	c.services = services
	c.lastRenewal = c.opts.Clock.Now()
	c.mu.Unlock()

	c.log.Info("connected to host",
		"url", c.desc.URL.String(),
		"apiVersion", metadata.APIVersion,
		"instanceUUID", metadata.InstanceUUID,
		"services", sets.List(c.opts.Services))
	return nil
}

// openServices logs in to every configured sub-service at once.  Failures are keyed by service name.
func (c *Connection) openServices(ctx context.Context, primary *endpoint.Session) (map[endpoint.Kind]*endpoint.Session, map[string]error) {
	var (
		eg       errgroup.Group
		mu       sync.Mutex
		services = make(map[endpoint.Kind]*endpoint.Session, c.opts.Services.Len())
		failed   = map[string]error{}
	)

	for _, kind := range endpoint.SubServices() {
		if !c.opts.Services.Has(kind) {
			continue
		}
		eg.Go(func() error {
			credential, err := c.dialer.LoginService(ctx, kind, primary)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.WarningErr("could not open sub-service session", err, "service", kind)
				failed[kind.String()] = err
				return nil
			}
			services[kind] = endpoint.NewSession(kind, kind.URL(c.desc.URL), c.dialer.HTTPClient(), credential)
			return nil
		})
	}
	_ = eg.Wait()

	return services, failed
}

func (c *Connection) checkVersion(metadata *endpoint.HostMetadata) error {
	if c.opts.MinimumAPIVersion == nil {
		return nil
	}
	version, err := ParseAPIVersion(metadata.APIVersion)
	if err != nil {
		return connerr.Protocol(opVersion, err)
	}
	if version.LessThan(*c.opts.MinimumAPIVersion) {
		return connerr.Protocol(opVersion, fmt.Errorf("host API version %s is older than the minimum %s", metadata.APIVersion, c.opts.MinimumAPIVersion))
	}
	return nil
}

// ParseAPIVersion reads versions such as 8.0.2.0, which carry one component more than semver allows.
func ParseAPIVersion(v string) (*semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	version, err := semver.NewVersion(strings.Join(parts[:3], "."))
	if err != nil {
		return nil, fmt.Errorf("invalid API version %q: %w", v, err)
	}
	return version, nil
}

// RefreshCredentials logs in again with a renewed token and re-derives every sub-service credential from the
// new primary credential.  The new credentials replace the current ones only when all of them were issued, and
// the replaced ones are logged out.  Sessions opened for a host that disconnected meanwhile are logged out
// again and ErrNotConnected is returned.  The host stays live only after a complete refresh.
func (c *Connection) RefreshCredentials(ctx context.Context, token *federation.SecurityToken, signer wssecurity.Signer) error {
	c.mu.RLock()
	primary, services := c.primary, c.services
	c.mu.RUnlock()
	if primary == nil {
		return connerr.Protocol(opRefresh, ErrNotConnected)
	}

	credential, err := c.dialer.LoginByToken(ctx, c.desc.URL, token, signer)
	if err != nil {
		return err
	}
	fresh := endpoint.NewSession(endpoint.Inventory, primary.URL(), c.dialer.HTTPClient(), credential)
	if !c.holds(primary) {
		_ = c.rollback(ctx, fresh, nil)
		return connerr.Protocol(opRefresh, ErrNotConnected)
	}

	var (
		eg            errgroup.Group
		mu            sync.Mutex
		errs          = multierror.New()
		freshServices = make(map[endpoint.Kind]*endpoint.Session, len(services))
	)
	for kind, session := range services {
		eg.Go(func() error {
			credential, err := c.dialer.LoginService(ctx, kind, fresh)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs.AddWithSource(kind.String(), err)
				return nil
			}
			freshServices[kind] = endpoint.NewSession(kind, session.URL(), c.dialer.HTTPClient(), credential)
			return nil
		})
	}
	_ = eg.Wait()

	if err := errs.ErrOrNil(); err != nil {
		_ = c.rollback(ctx, fresh, freshServices)
		return err
	}

	// Disconnect swaps the sessions out under c.mu, so they cannot be closed while the credentials are replaced.
	c.mu.Lock()
	if c.primary != primary {
		c.mu.Unlock()
		_ = c.rollback(ctx, fresh, freshServices)
		return connerr.Protocol(opRefresh, ErrNotConnected)
	}
	retired := endpoint.NewSession(endpoint.Inventory, primary.URL(), c.dialer.HTTPClient(), primary.Credential())
	primary.SetCredential(fresh.Credential())
	retiredServices := make(map[endpoint.Kind]*endpoint.Session, len(services))
	for kind, session := range services {
		retiredServices[kind] = endpoint.NewSession(kind, session.URL(), c.dialer.HTTPClient(), session.Credential())
		session.SetCredential(freshServices[kind].Credential())
	}
	c.lastRenewal = c.opts.Clock.Now()
	c.mu.Unlock()

	// rollback logs failures to end the replaced sessions; the new ones are already in use.
	_ = c.rollback(ctx, retired, retiredServices)
	c.log.Debug("refreshed host credentials")
	return nil
}

// holds reports whether primary is still the open primary session.
func (c *Connection) holds(primary *endpoint.Session) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary == primary
}

// IsConnected reports whether the host has a session that was renewed less than a ticket lifetime ago.
// It turns false on its own once that window passes.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary.Active() && c.opts.Clock.Since(c.lastRenewal) < c.opts.Lifetime
}

// StartKeepAlive pings the primary and storage policy sessions periodically until Disconnect.
// Calling it again while running does nothing.
func (c *Connection) StartKeepAlive(ctx context.Context) {
	c.keepAliveMu.Lock()
	defer c.keepAliveMu.Unlock()
	if c.keepAlive != nil {
		return
	}
	c.keepAlive = periodic.Start(context.WithoutCancel(ctx), c.opts.Clock, c.opts.KeepAliveInterval, c.ping)
}

func (c *Connection) ping(ctx context.Context) {
	for _, session := range []*endpoint.Session{c.Primary(), c.StoragePolicy()} {
		if !session.Active() {
			continue
		}
		err := c.dialer.Ping(ctx, session)
		c.opts.Metrics.KeepAlive(c.desc.ID, string(session.Kind()), err)
		if err != nil {
			c.log.WarningErr("keep-alive failed", err, "service", session.Kind())
			continue
		}
		c.log.Trace("keep-alive succeeded", "service", session.Kind())
	}
}

// Disconnect stops the keep-alive and logs out of every session, sub-services first.  Errors are returned
// but the connection is always left disconnected.  It does nothing when already disconnected.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.keepAliveMu.Lock()
	c.keepAlive.Stop()
	c.keepAlive = nil
	c.keepAliveMu.Unlock()

	c.mu.Lock()
	primary, services := c.primary, c.services
	c.primary, c.services = nil, nil
	c.lastRenewal = time.Time{}
	c.mu.Unlock()

	if primary == nil {
		return nil
	}
	err := c.rollback(ctx, primary, services)
	c.log.Info("disconnected from host")
	return err
}

// rollback logs out of the given sessions, sub-services first, and closes them.
func (c *Connection) rollback(ctx context.Context, primary *endpoint.Session, services map[endpoint.Kind]*endpoint.Session) error {
	errs := multierror.New()
	for _, kind := range endpoint.SubServices() {
		session, ok := services[kind]
		if !ok {
			continue
		}
		errs.AddWithSource(kind.String(), c.dialer.Logout(ctx, session))
		session.Close()
	}
	errs.AddWithSource(endpoint.Inventory.String(), c.dialer.Logout(ctx, primary))
	primary.Close()

	if err := errs.ErrOrNil(); err != nil {
		c.log.WarningErr("could not log out of every session", err)
		return err
	}
	return nil
}

func (c *Connection) ID() string { return c.desc.ID }

func (c *Connection) URL() *url.URL { return c.desc.URL }

func (c *Connection) Descriptor() directory.HostDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc := c.desc
	if c.class != directory.Unclassified {
		desc.Class = c.class
	}
	return desc
}

// Thumbprint is the SHA-1 thumbprint of the certificate the host presented when it was connected.
func (c *Connection) Thumbprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thumbprint
}

func (c *Connection) DeploymentClass() directory.DeploymentClass {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.class
}

func (c *Connection) Metadata() *endpoint.HostMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

func (c *Connection) Primary() *endpoint.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary
}

// Session returns the session of kind, or nil when that service is not open.
func (c *Connection) Session(kind endpoint.Kind) *endpoint.Session {
	if kind == endpoint.Inventory {
		return c.Primary()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services[kind]
}

func (c *Connection) StoragePolicy() *endpoint.Session { return c.Session(endpoint.StoragePolicy) }

func (c *Connection) DiskLifecycle() *endpoint.Session { return c.Session(endpoint.DiskLifecycle) }

func (c *Connection) Automation() *endpoint.Session { return c.Session(endpoint.Automation) }

// Operation returns a handle for waiting on a remote operation running on this host.
func (c *Connection) Operation(id string) *asyncop.Handle {
	return asyncop.NewHandle(id, c)
}

func (c *Connection) OperationStatus(ctx context.Context, id string) (*asyncop.Status, error) {
	primary := c.Primary()
	if !primary.Active() {
		return nil, connerr.Protocol("operation status", ErrNotConnected)
	}
	return c.dialer.OperationStatus(ctx, primary, id)
}
