// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/here"
	"go.pinniped.dev/safekeeping/internal/plog"
	"go.pinniped.dev/safekeeping/internal/soap"
)

func registration(serviceID, url, protocol string) string {
	return fmt.Sprintf(here.Doc(`
		<returnval>
		  <serviceVersion>8.0</serviceVersion>
		  <nodeId>node-%[1]s</nodeId>
		  <serviceId>%[1]s</serviceId>
		  <serviceEndpoints>
		    <url>%[2]s</url>
		    <endpointType><protocol>%[3]s</protocol><type>com.vmware.vim</type></endpointType>
		  </serviceEndpoints>
		</returnval>
	`), serviceID, url, protocol)
}

func TestLookupServiceHosts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantHosts []string
		wantErr   string
	}{
		{
			name: "inventory registrations in order",
			body: registration("b-uuid", "https://vc02.example.com/sdk", "vmomi") +
				registration("rest-only", "https://vc03.example.com/api", "rest") +
				registration("a-uuid", "https://vc01.example.com:443/sdk", "vmomi") +
				registration("b-uuid", "https://vc02-duplicate.example.com/sdk", "vmomi") +
				registration("bad-url", "http://insecure.example.com/sdk", "vmomi"),
			wantHosts: []string{"b-uuid=https://vc02.example.com", "a-uuid=https://vc01.example.com:443"},
		},
		{
			name:    "nothing registered",
			body:    registration("rest-only", "https://vc03.example.com/api", "rest"),
			wantErr: "protocol error during list host registrations: lookup service returned no inventory service registrations",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.Contains(t, string(raw), "<List xmlns=\"urn:lookup\">")
				require.Equal(t, "urn:lookup/2.0", r.Header.Get("SOAPAction"))

				w.Header().Set("Content-Type", "text/xml")
				_, _ = fmt.Fprintf(w, `<S:Envelope xmlns:S="%s"><S:Body><ListResponse xmlns="urn:lookup">%s</ListResponse></S:Body></S:Envelope>`,
					soap.NamespaceEnvelope, tt.body)
			}))
			t.Cleanup(server.Close)

			logger, log := plog.TestLogger(t)
			l := &LookupService{URL: server.URL + "/lookupservice/sdk", Client: soap.NewClient(server.Client(), logger), Logger: logger}

			hosts, err := l.Hosts(context.Background())
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				require.True(t, connerr.IsProtocol(err))
				return
			}
			require.NoError(t, err)

			var got []string
			for _, h := range hosts {
				got = append(got, h.ID+"="+h.URL.String())
			}
			require.Equal(t, tt.wantHosts, got)
			require.Contains(t, log.String(), `"message":"ignoring unusable inventory service endpoint"`)
		})
	}
}
