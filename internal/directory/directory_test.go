// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cert *x509.Certificate
		want DeploymentClass
	}{
		{name: "no certificate", want: Unclassified},
		{name: "on premises", cert: &x509.Certificate{Subject: pkix.Name{CommonName: "vc01.corp.example.com"}}, want: OnPremises},
		{name: "vmc by common name", cert: &x509.Certificate{Subject: pkix.Name{CommonName: "vcenter.sddc-44-1-2-3.vmwarevmc.com"}}, want: VMConAWS},
		{name: "avs is case insensitive", cert: &x509.Certificate{Subject: pkix.Name{CommonName: "VC.ABC123.EASTUS.AVS.AZURE.COM"}}, want: AzureVMwareSolution},
		{
			name: "gve by dns name",
			cert: &x509.Certificate{Subject: pkix.Name{CommonName: "vcsa"}, DNSNames: []string{"localhost", "vcsa-12345.a1b2c3.europe-west3.gve.goog."}},
			want: GoogleVMwareEngine,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Classify(tt.cert))
		})
	}
}

func TestNewStatic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hosts   []StaticHost
		wantIDs []string
		wantErr string
	}{
		{
			name:    "keeps order and defaults ids to host names",
			hosts:   []StaticHost{{ID: "vc02", URL: "https://vc02.example.com"}, {URL: "https://vc01.example.com:8443/"}},
			wantIDs: []string{"vc02", "vc01.example.com"},
		},
		{
			name:    "plain http",
			hosts:   []StaticHost{{ID: "vc01", URL: "http://vc01.example.com"}},
			wantErr: `host "vc01": URL must be https, but had scheme "http" instead`,
		},
		{
			name:    "no host",
			hosts:   []StaticHost{{ID: "vc01", URL: "https:///sdk"}},
			wantErr: `host "vc01": URL "https:///sdk" has no host`,
		},
		{
			name:    "duplicate",
			hosts:   []StaticHost{{URL: "https://vc01.example.com"}, {ID: "vc01.example.com", URL: "https://other.example.com"}},
			wantErr: `duplicate host id "vc01.example.com"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			static, err := NewStatic(tt.hosts)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			hosts, err := static.Hosts(context.Background())
			require.NoError(t, err)
			var ids []string
			for _, h := range hosts {
				ids = append(ids, h.ID)
				require.Equal(t, Unclassified, h.Class)
			}
			require.Equal(t, tt.wantIDs, ids)

			// callers get their own copy
			hosts[0].ID = "changed"
			again, err := static.Hosts(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.wantIDs[0], again[0].ID)
		})
	}
}
