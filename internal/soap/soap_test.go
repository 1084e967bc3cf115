// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package soap

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/here"
	"go.pinniped.dev/safekeeping/internal/plog"
)

func TestFrame(t *testing.T) {
	t.Parallel()

	got := string(Frame([]byte("<h/>"), []byte("<b/>"), ""))
	require.Equal(t, xml.Header+
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`+
		`<soapenv:Header><h/></soapenv:Header><soapenv:Body><b/></soapenv:Body></soapenv:Envelope>`, got)

	require.NotContains(t, string(Frame(nil, []byte("<b/>"), "")), "Header")

	withID := string(Frame(nil, []byte("<b></b>"), "_body-1"))
	require.Contains(t, withID, string(BodyElement("_body-1", []byte("<b></b>"))))
	require.Contains(t, withID, `<soapenv:Body xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" `+
		`xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd" wsu:Id="_body-1"><b></b></soapenv:Body>`)
}

type currentTimeResponse struct {
	Returnval string `xml:"returnval"`
}

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		wantCheck func(t *testing.T, err error)
		wantResp  func(t *testing.T, resp *Response)
	}{
		{
			name:   "success with cookie",
			status: http.StatusOK,
			body: here.Doc(`
				<?xml version="1.0" encoding="UTF-8"?>
				<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
				  <soapenv:Body>
				    <CurrentTimeResponse xmlns="urn:vim25"><returnval>2024-05-01T10:00:00Z</returnval></CurrentTimeResponse>
				  </soapenv:Body>
				</soapenv:Envelope>
			`),
			wantResp: func(t *testing.T, resp *Response) {
				var out currentTimeResponse
				require.NoError(t, resp.Decode(&out))
				require.Equal(t, "2024-05-01T10:00:00Z", out.Returnval)
				require.NotNil(t, resp.Cookie("vmware_soap_session"))
				require.Equal(t, "abc", resp.Cookie("vmware_soap_session").Value)
				require.Nil(t, resp.Cookie("nope"))
			},
		},
		{
			name:   "authentication fault",
			status: http.StatusInternalServerError,
			body: here.Doc(`
				<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
				  <soapenv:Body>
				    <soapenv:Fault>
				      <faultcode>ServerFaultCode</faultcode>
				      <faultstring>Cannot complete login due to an incorrect user name or password.</faultstring>
				      <detail><InvalidLoginFault xmlns="urn:vim25"/></detail>
				    </soapenv:Fault>
				  </soapenv:Body>
				</soapenv:Envelope>
			`),
			wantErr: "authentication failed during CurrentTime: soap fault ServerFaultCode: Cannot complete login due to an incorrect user name or password.",
			wantCheck: func(t *testing.T, err error) {
				require.True(t, connerr.IsAuthentication(err))
			},
		},
		{
			name:   "other fault is a protocol error",
			status: http.StatusInternalServerError,
			body: `<S:Envelope xmlns:S="http://schemas.xmlsoap.org/soap/envelope/"><S:Body>` +
				`<S:Fault><faultcode>S:Client</faultcode><faultstring>bad request</faultstring></S:Fault></S:Body></S:Envelope>`,
			wantErr: "protocol error during CurrentTime: soap fault S:Client: bad request",
			wantCheck: func(t *testing.T, err error) {
				require.True(t, connerr.IsProtocol(err))
			},
		},
		{
			name:    "unauthorized without envelope",
			status:  http.StatusUnauthorized,
			body:    "go away",
			wantErr: "authentication failed during CurrentTime: unexpected status 401 Unauthorized",
		},
		{
			name:    "server error without envelope",
			status:  http.StatusBadGateway,
			body:    "<html>proxy</html>",
			wantErr: "transport error during CurrentTime: unexpected status 502 Bad Gateway",
		},
		{
			name:    "not xml",
			status:  http.StatusOK,
			body:    "{}",
			wantErr: "protocol error during CurrentTime: response is not a SOAP envelope: EOF",
		},
		{
			name:    "wrong namespace",
			status:  http.StatusOK,
			body:    `<Envelope xmlns="urn:other"><Body/></Envelope>`,
			wantErr: `protocol error during CurrentTime: unexpected envelope namespace "urn:other"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "urn:vim25/8.0", r.Header.Get("SOAPAction"))
				assert.Equal(t, "text/xml; charset=utf-8", r.Header.Get("Content-Type"))
				assert.Equal(t, "decorated", r.Header.Get("X-Test"))
				body, _ := io.ReadAll(r.Body)
				assert.Contains(t, string(body), "<CurrentTime")

				http.SetCookie(w, &http.Cookie{Name: "vmware_soap_session", Value: "abc"})
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(server.Close)

			logger, _ := plog.TestLogger(t)
			c := NewClient(server.Client(), logger)
			require.Equal(t, server.Client(), c.HTTPClient())

			resp, err := c.Call(context.Background(), server.URL, &Request{
				Op:     "CurrentTime",
				Action: "urn:vim25/8.0",
				Body:   []byte(`<CurrentTime xmlns="urn:vim25"><_this type="ServiceInstance">ServiceInstance</_this></CurrentTime>`),
				Decorate: func(r *http.Request) {
					r.Header.Set("X-Test", "decorated")
				},
			})
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				require.Nil(t, resp)
				if tt.wantCheck != nil {
					tt.wantCheck(t, err)
				}
				return
			}
			require.NoError(t, err)
			tt.wantResp(t, resp)
		})
	}
}

func TestCallTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	logger, _ := plog.TestLogger(t)
	_, err := NewClient(http.DefaultClient, logger).Call(context.Background(), url, &Request{Op: "Ping"})
	require.Error(t, err)
	require.True(t, connerr.IsTransport(err))
}
