// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package federation obtains SAML security tokens from a federated identity provider and keeps them fresh.
//
// Two acquisition strategies exist: a WS-Trust exchange signed with a certificate and its key, and an
// OAuth2 refresh token exchanged for an assertion over REST.  Both are exposed through the same Provider
// so that callers never need to know which one is configured.
package federation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/backoff"
	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/metrics"
	"go.pinniped.dev/safekeeping/internal/periodic"
	"go.pinniped.dev/safekeeping/internal/plog"
	"go.pinniped.dev/safekeeping/internal/wssecurity"
)

const (
	DefaultLifetime = 30 * time.Minute

	renewalRetryInitial = time.Second
	renewalRetryMax     = 30 * time.Second
)

// Provider obtains and renews security tokens.
type Provider interface {
	// Name identifies the acquisition strategy in logs and metrics.
	Name() string
	// Connect obtains a token.  It is a no-op returning the current token when that token is still valid.
	Connect(ctx context.Context) (*SecurityToken, error)
	// Renew replaces the current token with one valid for lifetime.
	Renew(ctx context.Context, lifetime time.Duration) (*SecurityToken, error)
	// Token is the current token, or nil when there is none or it has expired.
	Token() *SecurityToken
	// Signer is the key that must sign every use of a holder-of-key token, or nil for bearer tokens.
	Signer() wssecurity.Signer
	// StartRenewalLoop renews the token every half lifetime until Disconnect or ctx is done.
	// onRenewed is called after every successful renewal.
	StartRenewalLoop(ctx context.Context, onRenewed func(ctx context.Context, token *SecurityToken))
	// Disconnect stops the renewal loop and forgets the token.
	Disconnect()
}

// Options are shared by every strategy.
type Options struct {
	// Lifetime is the requested ticket lifetime.  Defaults to DefaultLifetime.
	Lifetime time.Duration
	Clock    clock.WithTicker
	Logger   plog.Logger
	Metrics  *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Lifetime <= 0 {
		o.Lifetime = DefaultLifetime
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = plog.New()
	}
	return o
}

// strategy is one way of talking to the identity provider.
type strategy interface {
	name() string
	issue(ctx context.Context, lifetime time.Duration) (*SecurityToken, error)
	// renew may use current, which is valid when non-nil, to extend the existing session.
	renew(ctx context.Context, current *SecurityToken, lifetime time.Duration) (*SecurityToken, error)
	signer() wssecurity.Signer
}

type provider struct {
	strategy strategy
	opts     Options
	log      plog.Logger

	// token is replaced wholesale so that readers never see half of a renewal.
	token atomic.Pointer[SecurityToken]

	// acquireMu serializes calls to the identity provider.
	acquireMu sync.Mutex

	loopMu sync.Mutex
	loop   *periodic.Task
}

var _ Provider = (*provider)(nil)

func newProvider(s strategy, opts Options) *provider {
	opts = opts.withDefaults()
	return &provider{
		strategy: s,
		opts:     opts,
		log:      opts.Logger.WithName("federation").WithValues("provider", s.name()),
	}
}

func (p *provider) Name() string { return p.strategy.name() }

func (p *provider) Signer() wssecurity.Signer { return p.strategy.signer() }

func (p *provider) Token() *SecurityToken {
	t := p.token.Load()
	if !t.Valid(p.opts.Clock.Now()) {
		return nil
	}
	return t
}

func (p *provider) Connect(ctx context.Context) (*SecurityToken, error) {
	if t := p.Token(); t != nil {
		p.log.Debug("already connected to identity provider", "expiresAt", t.ExpiresAt)
		return t, nil
	}

	p.acquireMu.Lock()
	defer p.acquireMu.Unlock()

	// another caller may have connected while we waited
	if t := p.Token(); t != nil {
		return t, nil
	}

	t, err := p.strategy.issue(ctx, p.opts.Lifetime)
	p.opts.Metrics.TokenRenewal(p.Name(), err)
	if err != nil {
		p.log.Error("could not obtain token", err)
		return nil, err
	}

	p.token.Store(t)
	p.log.Info("obtained token", "subject", t.Subject, "kind", t.Kind, "expiresAt", t.ExpiresAt)
	return t, nil
}

func (p *provider) Renew(ctx context.Context, lifetime time.Duration) (*SecurityToken, error) {
	if lifetime <= 0 {
		lifetime = p.opts.Lifetime
	}

	p.acquireMu.Lock()
	defer p.acquireMu.Unlock()

	t, err := p.strategy.renew(ctx, p.Token(), lifetime)
	p.opts.Metrics.TokenRenewal(p.Name(), err)
	if err != nil {
		return nil, err
	}

	p.token.Store(t)
	p.log.Debug("renewed token", "subject", t.Subject, "expiresAt", t.ExpiresAt)
	return t, nil
}

func (p *provider) StartRenewalLoop(ctx context.Context, onRenewed func(ctx context.Context, token *SecurityToken)) {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()

	if p.loop != nil {
		return
	}

	interval := p.opts.Lifetime / 2
	p.log.Info("starting token renewal loop", "interval", interval)
	p.loop = periodic.Start(ctx, p.opts.Clock, interval, func(ctx context.Context) {
		t, err := p.renewWithRetry(ctx)
		if err != nil {
			// the next tick tries again; until then the hosts keep their current sessions
			p.log.Error("token renewal failed", err)
			return
		}
		if onRenewed != nil {
			onRenewed(ctx, t)
		}
	})
}

// renewWithRetry retries transport failures until a quarter of the lifetime has passed.
// Rejected credentials and malformed responses will not improve by retrying.
func (p *provider) renewWithRetry(ctx context.Context) (*SecurityToken, error) {
	start := p.opts.Clock.Now()
	budget := p.opts.Lifetime / 4

	var (
		renewed *SecurityToken
		lastErr error
	)
	err := backoff.WithContext(ctx, p.opts.Clock, &backoff.InfiniteBackoff{
		Duration:    renewalRetryInitial,
		Factor:      2,
		MaxDuration: renewalRetryMax,
	}, func(ctx context.Context) (bool, error) {
		renewed, lastErr = p.Renew(ctx, p.opts.Lifetime)
		if lastErr == nil {
			return true, nil
		}
		if connerr.IsTransport(lastErr) && p.opts.Clock.Since(start) < budget {
			p.log.WarningErr("token renewal failed, retrying", lastErr)
			return false, nil
		}
		return false, lastErr
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

func (p *provider) Disconnect() {
	p.loopMu.Lock()
	loop := p.loop
	p.loop = nil
	p.loopMu.Unlock()

	loop.Stop()

	if p.token.Swap(nil) != nil {
		p.log.Info("disconnected from identity provider")
	}
}
