// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/plog"
	"go.pinniped.dev/safekeeping/internal/soap"
)

const (
	opList = "list host registrations"

	ErrNoHosts = constable.Error("lookup service returned no inventory service registrations")

	listRequest = `<List xmlns="urn:lookup"><_this type="LookupServiceRegistration">ServiceRegistration</_this>` +
		`<filterCriteria><serviceType><product>com.vmware.cis</product><type>vcenterserver</type></serviceType>` +
		`<endpointType><protocol>vmomi</protocol><type>com.vmware.vim</type></endpointType></filterCriteria></List>`
	listAction = "urn:lookup/2.0"
)

type listResponse struct {
	Registrations []struct {
		ServiceID string `xml:"serviceId"`
		NodeID    string `xml:"nodeId"`
		Endpoints []struct {
			URL          string `xml:"url"`
			EndpointType struct {
				Protocol string `xml:"protocol"`
				Type     string `xml:"type"`
			} `xml:"endpointType"`
		} `xml:"serviceEndpoints"`
	} `xml:"returnval"`
}

// LookupService asks the identity provider's lookup service for every registered inventory service.
type LookupService struct {
	URL    string
	Client *soap.Client
	Logger plog.Logger
}

var _ Lookup = (*LookupService)(nil)

func (l *LookupService) Hosts(ctx context.Context) ([]HostDescriptor, error) {
	resp, err := l.Client.Call(ctx, l.URL, &soap.Request{Op: opList, Action: listAction, Body: []byte(listRequest)})
	if err != nil {
		return nil, err
	}

	var list listResponse
	if err := resp.Decode(&list); err != nil {
		return nil, connerr.Protocol(opList, err)
	}

	seen := sets.New[string]()
	var hosts []HostDescriptor
	for _, reg := range list.Registrations {
		id := strings.TrimSpace(reg.ServiceID)
		if id == "" || seen.Has(id) {
			continue
		}
		for _, ep := range reg.Endpoints {
			if ep.EndpointType.Protocol != "vmomi" || ep.EndpointType.Type != "com.vmware.vim" {
				continue
			}
			u, err := parseHostURL(strings.TrimSpace(ep.URL))
			if err != nil {
				l.Logger.WarningErr("ignoring unusable inventory service endpoint", err, "hostID", id)
				continue
			}
			// registrations point at the SOAP path, but a host is identified by its base URL
			u.Path = ""
			seen.Insert(id)
			hosts = append(hosts, HostDescriptor{ID: id, URL: u})
			break
		}
	}

	if len(hosts) == 0 {
		return nil, connerr.Protocol(opList, ErrNoHosts)
	}
	l.Logger.Debug("discovered hosts", "count", len(hosts))
	return hosts, nil
}
