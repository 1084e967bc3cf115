// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package directory discovers the managed hosts that an identity provider federates.
package directory

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/url"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// DeploymentClass is where a host runs, as inferred from its serving certificate.
type DeploymentClass string

const (
	// Unclassified is the class of a host whose certificate has not been seen yet.
	Unclassified        DeploymentClass = ""
	OnPremises          DeploymentClass = "on-premises"
	VMConAWS            DeploymentClass = "vmc-on-aws"
	AzureVMwareSolution DeploymentClass = "azure-vmware-solution"
	GoogleVMwareEngine  DeploymentClass = "google-vmware-engine"
)

// cloudSuffixes maps certificate name suffixes to the cloud offering that issues them.
var cloudSuffixes = []struct { //nolint:gochecknoglobals
	suffix string
	class  DeploymentClass
}{
	{".vmwarevmc.com", VMConAWS},
	{".avs.azure.com", AzureVMwareSolution},
	{".gve.goog", GoogleVMwareEngine},
}

// Classify infers the deployment class from the common name of a host certificate, falling back to
// its DNS names.  Anything unrecognized is on premises.
func Classify(cert *x509.Certificate) DeploymentClass {
	if cert == nil {
		return Unclassified
	}
	names := append([]string{cert.Subject.CommonName}, cert.DNSNames...)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		for _, s := range cloudSuffixes {
			if strings.HasSuffix(name, s.suffix) {
				return s.class
			}
		}
	}
	return OnPremises
}

// HostDescriptor is one host reported by the directory.
type HostDescriptor struct {
	ID    string
	URL   *url.URL
	Class DeploymentClass
}

func (d HostDescriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.ID, d.URL.Redacted())
}

// Lookup lists the hosts to connect to, in the order they should be preferred.
type Lookup interface {
	Hosts(ctx context.Context) ([]HostDescriptor, error)
}

// StaticHost is a configured host.
type StaticHost struct {
	ID  string
	URL string
}

// Static is a Lookup over a fixed list.
type Static []HostDescriptor

var _ Lookup = Static(nil)

// NewStatic validates a configured host list.  Every URL must be https and every id unique.
func NewStatic(hosts []StaticHost) (Static, error) {
	seen := sets.New[string]()
	out := make(Static, 0, len(hosts))
	for _, h := range hosts {
		u, err := parseHostURL(h.URL)
		if err != nil {
			return nil, fmt.Errorf("host %q: %w", h.ID, err)
		}
		id := h.ID
		if id == "" {
			id = u.Hostname()
		}
		if seen.Has(id) {
			return nil, fmt.Errorf("duplicate host id %q", id)
		}
		seen.Insert(id)
		out = append(out, HostDescriptor{ID: id, URL: u})
	}
	return out, nil
}

func (s Static) Hosts(_ context.Context) ([]HostDescriptor, error) {
	return append([]HostDescriptor(nil), s...), nil
}

func parseHostURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("URL must be https, but had scheme %q instead", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("URL %q has no host", raw)
	}
	return u, nil
}
