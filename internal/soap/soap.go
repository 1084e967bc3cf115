// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package soap is a minimal SOAP 1.1 client: it frames request payloads in an envelope, posts them and
// hands back the raw body payload of the response.  Payload types belong to the callers.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/plog"
)

const (
	NamespaceEnvelope = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceXSI      = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceXSD      = "http://www.w3.org/2001/XMLSchema"
	NamespaceWSU      = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	maxResponseBytes = 32 << 20
)

// Request is a single SOAP call.  Header and Body are already serialized XML fragments.
type Request struct {
	// Op names the call in errors and logs, e.g. "LoginByToken".
	Op     string
	Action string
	Header []byte
	Body   []byte
	// BodyID, when set, gives the Body element a wsu:Id so that a WS-Security signature can reference it.
	BodyID string
	// Decorate may add credentials such as cookies to the outgoing HTTP request.
	Decorate func(*http.Request)
}

// Response carries the inner XML of the response Body element.
type Response struct {
	Body    []byte
	Header  []byte
	Cookies []*http.Cookie
}

// Decode unmarshals the payload element of the response body into v.
func (r *Response) Decode(v any) error {
	if err := xml.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("could not decode response payload: %w", err)
	}
	return nil
}

// Cookie returns the named cookie set by the response, or nil.
func (r *Response) Cookie(name string) *http.Cookie {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type Client struct {
	httpClient *http.Client
	log        plog.Logger
}

func NewClient(httpClient *http.Client, log plog.Logger) *Client {
	return &Client{httpClient: httpClient, log: log}
}

// HTTPClient is the client used for calls, shared with REST callers that reach the same endpoint.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Call posts req to endpoint.  Network failures are TransportErrors, rejected credentials (HTTP 401/403 or an
// authentication fault) are AuthenticationErrors and everything unparsable or unexpected is a ProtocolError.
func (c *Client) Call(ctx context.Context, endpoint string, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(Frame(req.Header, req.Body, req.BodyID)))
	if err != nil {
		return nil, connerr.Protocol(req.Op, err)
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", req.Action)
	if req.Decorate != nil {
		req.Decorate(httpReq)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, connerr.Transport(req.Op, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, connerr.Transport(req.Op, err)
	}

	c.log.All("soap response", "op", req.Op, "status", httpResp.StatusCode, "body", string(raw))

	env, decodeErr := decodeEnvelope(raw)
	if decodeErr == nil && env.Body.Fault != nil {
		return nil, env.Body.Fault.classify(req.Op)
	}

	if err := connerr.FromHTTPStatus(req.Op, httpResp.StatusCode, ""); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, connerr.Protocol(req.Op, decodeErr)
	}

	return &Response{
		Body:    bytes.TrimSpace(env.Body.Inner),
		Header:  bytes.TrimSpace(env.Header.Inner),
		Cookies: httpResp.Cookies(),
	}, nil
}

// Frame wraps serialized header and body fragments in a SOAP 1.1 envelope.
func Frame(header, body []byte, bodyID string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, `<soapenv:Envelope xmlns:soapenv="%s" xmlns:xsd="%s" xmlns:xsi="%s">`, NamespaceEnvelope, NamespaceXSD, NamespaceXSI)
	if len(header) > 0 {
		buf.WriteString("<soapenv:Header>")
		buf.Write(header)
		buf.WriteString("</soapenv:Header>")
	}
	if len(bodyID) > 0 {
		buf.Write(BodyElement(bodyID, body))
	} else {
		buf.WriteString("<soapenv:Body>")
		buf.Write(body)
		buf.WriteString("</soapenv:Body>")
	}
	buf.WriteString("</soapenv:Envelope>")
	return buf.Bytes()
}

// BodyElement is the identified Body element exactly as Frame emits it.  It declares every namespace it uses
// so that the same bytes are its exclusive canonical form, which is what a signature reference digests.
func BodyElement(bodyID string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<soapenv:Body xmlns:soapenv="%s" xmlns:wsu="%s" wsu:Id="%s">`, NamespaceEnvelope, NamespaceWSU, bodyID)
	buf.Write(body)
	buf.WriteString("</soapenv:Body>")
	return buf.Bytes()
}

type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Header"`
	Body struct {
		Inner []byte `xml:",innerxml"`
		Fault *Fault `xml:"Fault"`
	} `xml:"Body"`
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("response is not a SOAP envelope: %w", err)
	}
	if env.XMLName.Space != NamespaceEnvelope {
		return nil, fmt.Errorf("unexpected envelope namespace %q", env.XMLName.Space)
	}
	return &env, nil
}

// Fault is a SOAP 1.1 fault returned by the server.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// authenticationFaults are the fault codes and detail types used by identity providers and hosts for rejected credentials.
var authenticationFaults = []string{ //nolint:gochecknoglobals
	"FailedAuthentication",
	"InvalidSecurity",
	"InvalidSecurityToken",
	"FailedCheck",
	"InvalidLogin",
	"NotAuthenticated",
	"NoPermission",
	"RequestExpired",
}

// IsAuthentication reports whether the fault means the presented credentials were rejected.
func (f *Fault) IsAuthentication() bool {
	for _, marker := range authenticationFaults {
		if strings.Contains(f.Code, marker) || strings.Contains(f.Detail.Inner, marker) {
			return true
		}
	}
	return false
}

func (f *Fault) classify(op string) error {
	if f.IsAuthentication() {
		return connerr.Authentication(op, f)
	}
	return connerr.Protocol(op, f)
}
