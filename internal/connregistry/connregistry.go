// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package connregistry establishes and tears down the connections to every managed host: it obtains the
// federation token, discovers the hosts, connects to all of them at once and admits only the hosts whose
// every session opened.
package connregistry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/endpoint"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/hostconn"
	"go.pinniped.dev/safekeeping/internal/metrics"
	"go.pinniped.dev/safekeeping/internal/multierror"
	"go.pinniped.dev/safekeeping/internal/plog"
)

const (
	DefaultMaxConcurrentHosts = 8

	ErrNoHostConnected = constable.Error("no host could be connected")

	outcomeSuccess = "success"
	outcomePartial = "partial"
	outcomeFailure = "failure"
)

// Status summarizes a Connect or Disconnect.
type Status string

const (
	// Skipped means the registry was already in the requested state.
	Skipped   Status = "skipped"
	Succeeded Status = "succeeded"
	// Partial means the operation completed but some hosts failed.
	Partial Status = "partial"
	// Failed means nothing usable was established.
	Failed Status = "failed"
)

// Result is the outcome of a Connect or Disconnect.
type Result struct {
	Status Status
	// Reason is a human-readable concatenation of every failure, or a note for skipped operations.
	Reason string
	// Connected lists the admitted host ids in discovery order.
	Connected []string
	// Failed maps host ids to what went wrong with them.
	Failed map[string]error
}

// ClassObserver is told the deployment class of every admitted host.
type ClassObserver func(hostID string, class directory.DeploymentClass)

type Options struct {
	// Host configures every host connection.  Its Logger and Metrics default to the ones below.
	Host hostconn.Options
	// MaxConcurrentHosts bounds the connect and disconnect fan-out.
	MaxConcurrentHosts int
	OnClassified       ClassObserver

	Logger  plog.Logger
	Metrics *metrics.Recorder
}

// Registry is the single entry and exit point for host connections.  It is safe for concurrent use.
type Registry struct {
	provider federation.Provider
	lookup   directory.Lookup
	dialer   endpoint.Dialer
	opts     Options
	log      plog.Logger

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex

	mu        sync.RWMutex
	hosts     map[string]*hostconn.Connection
	order     []string
	defaultID string
	failures  map[string]error
}

func New(provider federation.Provider, lookup directory.Lookup, dialer endpoint.Dialer, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = plog.New()
	}
	if opts.MaxConcurrentHosts <= 0 {
		opts.MaxConcurrentHosts = DefaultMaxConcurrentHosts
	}
	if opts.Host.Logger == nil {
		opts.Host.Logger = opts.Logger
	}
	if opts.Host.Metrics == nil {
		opts.Host.Metrics = opts.Metrics
	}
	return &Registry{
		provider: provider,
		lookup:   lookup,
		dialer:   dialer,
		opts:     opts,
		log:      opts.Logger.WithName("connregistry"),
		hosts:    map[string]*hostconn.Connection{},
	}
}

// Connect obtains a token, discovers the hosts and connects to each of them concurrently.  Hosts that fail are
// recorded and left out.  The returned error is non-nil only when no host could be admitted, in which case the
// token is released again.  Once connected, the token is renewed and every admitted host kept alive in the
// background until Disconnect.
func (r *Registry) Connect(ctx context.Context) (*Result, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if connected := r.connectedIDs(); len(connected) > 0 {
		r.log.Debug("already connected, skipping connect", "hosts", connected)
		return &Result{Status: Skipped, Reason: "already connected", Connected: connected}, nil
	}

	token, err := r.provider.Connect(ctx)
	if err != nil {
		return r.failConnect(err, err.Error(), nil), err
	}

	descriptors, err := r.lookup.Hosts(ctx)
	if err == nil && len(descriptors) == 0 {
		err = connerr.Protocol("discover hosts", directory.ErrNoHosts)
	}
	if err != nil {
		return r.failConnect(err, err.Error(), nil), err
	}

	conns, errs := r.connectAll(ctx, descriptors, token)

	var (
		admitted []*hostconn.Connection
		failed   = map[string]error{}
		reasons  = multierror.New()
	)
	for i, desc := range descriptors {
		if errs[i] != nil {
			failed[desc.ID] = errs[i]
			reasons.AddWithSource(desc.ID, errs[i])
			continue
		}
		admitted = append(admitted, conns[i])
	}

	if len(admitted) == 0 {
		err := fmt.Errorf("%w: %w", ErrNoHostConnected, reasons.ErrOrNil())
		return r.failConnect(err, reasons.Reason(), failed), err
	}

	r.admit(ctx, admitted, failed)
	r.provider.StartRenewalLoop(context.WithoutCancel(ctx), r.refreshHosts)

	result := &Result{Status: Succeeded, Connected: r.connectedIDs(), Failed: failed}
	if len(failed) > 0 {
		result.Status = Partial
		result.Reason = reasons.Reason()
	}
	r.log.Info("connected", "status", result.Status, "hosts", result.Connected, "default", r.defaultHostID(), "failed", len(failed))
	return result, nil
}

// connectAll connects every host at once and returns, index for index, the connection or why it failed.
func (r *Registry) connectAll(ctx context.Context, descriptors []directory.HostDescriptor, token *federation.SecurityToken) ([]*hostconn.Connection, []error) {
	conns := make([]*hostconn.Connection, len(descriptors))
	errs := make([]error, len(descriptors))

	var eg errgroup.Group
	eg.SetLimit(r.opts.MaxConcurrentHosts)
	for i, desc := range descriptors {
		eg.Go(func() error {
			conn := hostconn.New(desc, r.dialer, r.opts.Host)
			err := conn.Connect(ctx, token, r.provider.Signer())
			switch {
			case err == nil:
				r.opts.Metrics.HostConnect(outcomeSuccess)
				conns[i] = conn
			case connerr.IsPartial(err):
				r.opts.Metrics.HostConnect(outcomePartial)
				r.log.WarningErr("host not admitted, some of its services could not be opened", err, "hostID", desc.ID)
			default:
				r.opts.Metrics.HostConnect(outcomeFailure)
				r.log.WarningErr("could not connect to host", err, "hostID", desc.ID)
			}
			errs[i] = err
			return nil
		})
	}
	_ = eg.Wait()

	return conns, errs
}

// admit publishes the connected hosts.  The first of them in discovery order becomes the default.
func (r *Registry) admit(ctx context.Context, admitted []*hostconn.Connection, failed map[string]error) {
	r.mu.Lock()
	r.hosts = make(map[string]*hostconn.Connection, len(admitted))
	r.order = make([]string, 0, len(admitted))
	for _, conn := range admitted {
		r.hosts[conn.ID()] = conn
		r.order = append(r.order, conn.ID())
	}
	r.defaultID = admitted[0].ID()
	r.failures = failed
	r.mu.Unlock()

	r.opts.Metrics.ConnectedHosts(len(admitted))

	for _, conn := range admitted {
		conn.StartKeepAlive(ctx)
		if r.opts.OnClassified != nil {
			r.opts.OnClassified(conn.ID(), conn.DeploymentClass())
		}
	}
}

func (r *Registry) failConnect(err error, reason string, failed map[string]error) *Result {
	r.log.Error("connect failed", err)
	r.provider.Disconnect()

	r.mu.Lock()
	r.failures = failed
	r.mu.Unlock()

	return &Result{Status: Failed, Reason: reason, Failed: failed}
}

// refreshHosts re-logs every connected host in with a renewed token.  Failures are only logged: a host that
// could not refresh drops out of its liveness window on its own.
func (r *Registry) refreshHosts(ctx context.Context, token *federation.SecurityToken) {
	conns := r.Connections()

	var eg errgroup.Group
	eg.SetLimit(r.opts.MaxConcurrentHosts)
	for _, conn := range conns {
		eg.Go(func() error {
			if err := conn.RefreshCredentials(ctx, token, r.provider.Signer()); err != nil {
				r.log.WarningErr("could not refresh host credentials", err, "hostID", conn.ID())
				return nil
			}
			r.log.Debug("refreshed host credentials", "hostID", conn.ID())
			return nil
		})
	}
	_ = eg.Wait()
}

// Disconnect tears down every host and then the token.  Both phases always run.  Hosts that did not log out
// cleanly are reported, but they are disconnected all the same.
func (r *Registry) Disconnect(ctx context.Context) (*Result, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	hosts, order := r.hosts, r.order
	r.hosts, r.order, r.defaultID, r.failures = map[string]*hostconn.Connection{}, nil, "", nil
	r.mu.Unlock()

	if len(hosts) == 0 && r.provider.Token() == nil {
		r.provider.Disconnect()
		return &Result{Status: Skipped, Reason: "already disconnected"}, nil
	}
	r.opts.Metrics.ConnectedHosts(0)

	errs := make([]error, len(order))
	var eg errgroup.Group
	eg.SetLimit(r.opts.MaxConcurrentHosts)
	for i, id := range order {
		eg.Go(func() error {
			errs[i] = hosts[id].Disconnect(ctx)
			return nil
		})
	}
	_ = eg.Wait()

	r.provider.Disconnect()

	result := &Result{Status: Succeeded, Failed: map[string]error{}}
	reasons := multierror.New()
	for i, id := range order {
		if errs[i] != nil {
			result.Failed[id] = errs[i]
			reasons.AddWithSource(id, errs[i])
		}
	}
	if err := reasons.ErrOrNil(); err != nil {
		result.Status = Partial
		result.Reason = reasons.Reason()
		r.log.WarningErr("disconnected with errors", err)
		return result, nil
	}
	r.log.Info("disconnected", "hosts", order)
	return result, nil
}

// Connection returns the admitted host with the given id, or the default host for an empty id.
// It returns nil when there is no such host.
func (r *Registry) Connection(id string) *hostconn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	return r.hosts[id]
}

// Default is the first host admitted by the last Connect, or nil.
func (r *Registry) Default() *hostconn.Connection {
	return r.Connection("")
}

// Connections returns the admitted hosts in discovery order.
func (r *Registry) Connections() []*hostconn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*hostconn.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.hosts[id])
	}
	return out
}

// Failures returns why each host that was not admitted by the last Connect failed.
func (r *Registry) Failures() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.failures))
	for id, err := range r.failures {
		out[id] = err
	}
	return out
}

// MatchFunc reports whether a host holds what the caller is looking for.
type MatchFunc func(ctx context.Context, conn *hostconn.Connection) (bool, error)

// FindFirst asks each host in turn and returns the first that matches, or nil.  Errors from individual hosts
// are logged and the search goes on.
func (r *Registry) FindFirst(ctx context.Context, match MatchFunc) *hostconn.Connection {
	for _, conn := range r.Connections() {
		if ctx.Err() != nil {
			return nil
		}
		ok, err := match(ctx, conn)
		if err != nil {
			r.log.WarningErr("search failed on host", err, "hostID", conn.ID())
			continue
		}
		if ok {
			return conn
		}
	}
	return nil
}

func (r *Registry) connectedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) defaultHostID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}
