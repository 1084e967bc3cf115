// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap wires a loaded configuration into a ready to use connection registry.
package bootstrap

import (
	"crypto/x509"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/config/safekeeping"
	"go.pinniped.dev/safekeeping/internal/connregistry"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/endpoint/vsphere"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/hostconn"
	"go.pinniped.dev/safekeeping/internal/metrics"
	"go.pinniped.dev/safekeeping/internal/net/phttp"
	"go.pinniped.dev/safekeeping/internal/plog"
	"go.pinniped.dev/safekeeping/internal/soap"
)

const errEmptyCABundle = constable.Error("no certificates found")

// Options are the process level dependencies that do not come from the config file.
type Options struct {
	Clock  clock.WithTicker
	Logger plog.Logger
	// Registerer receives the metrics collectors.  Nil disables metrics.
	Registerer   prometheus.Registerer
	OnClassified connregistry.ClassObserver
}

// Stack is every long lived component built from one Config.
type Stack struct {
	Provider federation.Provider
	Lookup   directory.Lookup
	Dialer   *vsphere.Dialer
	Registry *connregistry.Registry
	Waiter   *asyncop.Waiter
	Metrics  *metrics.Recorder
}

// New builds the stack described by cfg.  Nothing is contacted until Registry.Connect is called.
func New(cfg *safekeeping.Config, opts Options) (*Stack, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = plog.New()
	}
	log := opts.Logger

	var recorder *metrics.Recorder
	if opts.Registerer != nil {
		var err error
		if recorder, err = metrics.New(opts.Registerer); err != nil {
			return nil, fmt.Errorf("could not register metrics: %w", err)
		}
	}

	rootCAs, err := loadCABundle(cfg.IdentityProvider.CABundleFile)
	if err != nil {
		return nil, fmt.Errorf("could not load CA bundle: %w", err)
	}

	timeout := cfg.Connection.Timeout.Duration
	httpClient := phttp.Default(rootCAs, timeout)
	soapClient := soap.NewClient(httpClient, log)

	material, err := federation.LoadCredentials(cfg.CredentialSpec())
	if err != nil {
		return nil, fmt.Errorf("could not load credentials: %w", err)
	}

	providerOpts := federation.Options{
		Lifetime: cfg.Token.Lifetime.Duration,
		Clock:    opts.Clock,
		Logger:   log,
		Metrics:  recorder,
	}
	var provider federation.Provider
	switch m := material.(type) {
	case *federation.KeyPair:
		provider = federation.NewCertificateProvider(federation.CertificateConfig{
			STSURL:      cfg.STSURL(),
			Client:      soapClient,
			KeyPair:     m,
			HolderOfKey: *cfg.Token.HolderOfKey,
		}, providerOpts)
	case *federation.RefreshToken:
		te := cfg.IdentityProvider.TokenExchange
		provider = federation.NewExchangeProvider(federation.ExchangeConfig{
			TokenURL:     te.TokenURL,
			ClientID:     te.ClientID,
			ClientSecret: te.ClientSecret,
			Issuer:       te.Issuer,
			ExchangeURL:  cfg.ExchangeURL(),
			HTTPClient:   httpClient,
			RefreshToken: m,
		}, providerOpts)
	default:
		return nil, fmt.Errorf("unsupported credential source %q", material.Source())
	}

	lookup, err := newLookup(cfg, soapClient, log)
	if err != nil {
		return nil, err
	}

	hostOpts := hostconn.Options{
		Lifetime:          cfg.Token.Lifetime.Duration,
		KeepAliveInterval: cfg.KeepAliveInterval.Duration,
		Services:          cfg.EnabledServices(),
		Clock:             opts.Clock,
	}
	if v := cfg.Connection.MinimumAPIVersion; v != "" {
		if hostOpts.MinimumAPIVersion, err = hostconn.ParseAPIVersion(v); err != nil {
			return nil, err
		}
	}

	dialer := vsphere.New(vsphere.Config{
		RootCAs: rootCAs,
		Timeout: timeout,
		Clock:   opts.Clock,
		Logger:  log,
	})

	registry := connregistry.New(provider, lookup, dialer, connregistry.Options{
		Host:               hostOpts,
		MaxConcurrentHosts: cfg.Connection.MaxConcurrentHosts,
		OnClassified:       opts.OnClassified,
		Logger:             log,
		Metrics:            recorder,
	})

	waiter := asyncop.NewWaiter(asyncop.Config{
		PollInterval: cfg.Operations.PollInterval.Duration,
		MaxWait:      cfg.Operations.MaxWait.Duration,
		Clock:        opts.Clock,
		Logger:       log,
		Metrics:      recorder,
	})

	log.Debug("built session stack",
		"provider", provider.Name(),
		"staticHosts", len(cfg.Hosts),
		"services", cfg.EnabledServices().UnsortedList(),
	)

	return &Stack{
		Provider: provider,
		Lookup:   lookup,
		Dialer:   dialer,
		Registry: registry,
		Waiter:   waiter,
		Metrics:  recorder,
	}, nil
}

func newLookup(cfg *safekeeping.Config, client *soap.Client, log plog.Logger) (directory.Lookup, error) {
	if hosts := cfg.StaticHosts(); len(hosts) > 0 {
		static, err := directory.NewStatic(hosts)
		if err != nil {
			return nil, fmt.Errorf("invalid hosts: %w", err)
		}
		return static, nil
	}
	return &directory.LookupService{URL: cfg.LookupServiceURL(), Client: client, Logger: log}, nil
}

// loadCABundle returns nil, meaning the system pool, when path is empty.
func loadCABundle(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: %w", path, errEmptyCABundle)
	}
	return pool, nil
}
