// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package metrics records the health of tokens, host connections and asynchronous operation waits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "safekeeping"

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder owns the collectors registered for one registry.
// A nil *Recorder is valid and records nothing, which is what tests and callers without metrics use.
type Recorder struct {
	tokenRenewals  *prometheus.CounterVec
	hostConnects   *prometheus.CounterVec
	keepAlives     *prometheus.CounterVec
	operationWaits *prometheus.CounterVec
	connectedHosts prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		tokenRenewals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "renewals_total",
				Help:      "Token acquisitions and renewals against the identity provider",
			},
			[]string{"provider", "result"},
		),
		hostConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "connects_total",
				Help:      "Host connection attempts by outcome (success, partial, failure)",
			},
			[]string{"result"},
		),
		keepAlives: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "keepalives_total",
				Help:      "Keep-alive round trips by host and service",
			},
			[]string{"host", "service", "result"},
		),
		operationWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "waits_total",
				Help:      "Completed waits on asynchronous remote operations by outcome",
			},
			[]string{"outcome"},
		),
		connectedHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "connected_hosts",
				Help:      "Hosts currently admitted into the connection registry",
			},
		),
	}

	for _, c := range []prometheus.Collector{r.tokenRenewals, r.hostConnects, r.keepAlives, r.operationWaits, r.connectedHosts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Recorder) TokenRenewal(provider string, err error) {
	if r == nil {
		return
	}
	r.tokenRenewals.WithLabelValues(provider, result(err)).Inc()
}

// HostConnect records one host connection attempt, where outcome is success, partial or failure.
func (r *Recorder) HostConnect(outcome string) {
	if r == nil {
		return
	}
	r.hostConnects.WithLabelValues(outcome).Inc()
}

func (r *Recorder) KeepAlive(host, service string, err error) {
	if r == nil {
		return
	}
	r.keepAlives.WithLabelValues(host, service, result(err)).Inc()
}

func (r *Recorder) OperationWait(outcome string) {
	if r == nil {
		return
	}
	r.operationWaits.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ConnectedHosts(n int) {
	if r == nil {
		return
	}
	r.connectedHosts.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
