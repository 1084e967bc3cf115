// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package vsphere is the endpoint.Dialer for vSphere style hosts: the inventory, storage policy and disk
// lifecycle services speak SOAP and the automation service speaks JSON over REST.
package vsphere

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/crypto/ptls"
	"go.pinniped.dev/safekeeping/internal/endpoint"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/net/phttp"
	"go.pinniped.dev/safekeeping/internal/plog"
	"go.pinniped.dev/safekeeping/internal/soap"
	"go.pinniped.dev/safekeeping/internal/wssecurity"
)

const (
	ErrNoCertificate   = constable.Error("host presented no certificate")
	ErrNoToken         = constable.Error("no security token to log in with")
	ErrNoSigner        = constable.Error("holder-of-key token requires a signer")
	ErrNoSessionCookie = constable.Error("host did not return a session cookie")
	ErrOperationAbsent = constable.Error("operation not found")

	SessionCookieName    = "vmware_soap_session"
	ServiceCookieName    = "vcSessionCookie"
	AutomationHeaderName = "vmware-api-session-id"

	defaultPort         = "443"
	requestTimestampTTL = 10 * time.Minute

	actionVIM  = "urn:vim25/8.0"
	actionPBM  = "urn:pbm/2.0"
	actionVSLM = "urn:vslm/8.0"

	opHandshake       = "tls handshake"
	opLogin           = "login by token"
	opAbout           = "retrieve service content"
	opPing            = "keep-alive"
	opLogout          = "logout"
	opOperationStatus = "retrieve operation status"
	automationSession = "/session"
)

const (
	loginByTokenBody = `<LoginByToken xmlns="urn:vim25"><_this type="SessionManager">SessionManager</_this><locale>en_US</locale></LoginByToken>`
	serviceContent   = `<RetrieveServiceContent xmlns="urn:vim25"><_this type="ServiceInstance">ServiceInstance</_this></RetrieveServiceContent>`
	currentTimeBody  = `<CurrentTime xmlns="urn:vim25"><_this type="ServiceInstance">ServiceInstance</_this></CurrentTime>`
	logoutBody       = `<Logout xmlns="urn:vim25"><_this type="SessionManager">SessionManager</_this></Logout>`
	pbmContentBody   = `<PbmRetrieveServiceContent xmlns="urn:pbm"><_this type="PbmServiceInstance">ServiceInstance</_this></PbmRetrieveServiceContent>`
	vslmContentBody  = `<RetrieveContent xmlns="urn:vslm"><_this type="VslmServiceInstance">ServiceInstance</_this></RetrieveContent>`
	taskPropsFormat  = `<RetrievePropertiesEx xmlns="urn:vim25"><_this type="PropertyCollector">propertyCollector</_this>` +
		`<specSet><propSet><type>Task</type><pathSet>info.state</pathSet><pathSet>info.progress</pathSet><pathSet>info.error</pathSet></propSet>` +
		`<objectSet><obj type="Task">%s</obj></objectSet></specSet><options></options></RetrievePropertiesEx>`
)

type Config struct {
	// RootCAs verifies hosts.  Nil means the system pool.
	RootCAs *x509.CertPool
	// Timeout bounds every call, including handshakes.  Zero means phttp.DefaultTimeout.
	Timeout time.Duration
	Clock   clock.PassiveClock
	Logger  plog.Logger

	// TLSDialer and HTTPClient replace the defaults built from RootCAs and Timeout.
	TLSDialer  ptls.Dialer
	HTTPClient *http.Client
}

type Dialer struct {
	rootCAs    *x509.CertPool
	clock      clock.PassiveClock
	log        plog.Logger
	tlsDialer  ptls.Dialer
	httpClient *http.Client
	soap       *soap.Client
}

var _ endpoint.Dialer = (*Dialer)(nil)

func New(config Config) *Dialer {
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = plog.New()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = phttp.DefaultTimeout
	}
	if config.TLSDialer == nil {
		config.TLSDialer = ptls.NewDialer(config.Logger).WithTimeout(timeout)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = phttp.Default(config.RootCAs, timeout)
	}
	log := config.Logger.WithName("vsphere")
	return &Dialer{
		rootCAs:    config.RootCAs,
		clock:      config.Clock,
		log:        log,
		tlsDialer:  config.TLSDialer,
		httpClient: config.HTTPClient,
		soap:       soap.NewClient(config.HTTPClient, log),
	}
}

func (d *Dialer) HTTPClient() *http.Client {
	return d.httpClient
}

func (d *Dialer) Handshake(ctx context.Context, host *url.URL) ([]*x509.Certificate, error) {
	port := host.Port()
	if port == "" {
		port = defaultPort
	}
	certs, err := d.tlsDialer.PeerCertificates(ctx, net.JoinHostPort(host.Hostname(), port), d.rootCAs)
	if err != nil {
		return nil, connerr.Transport(opHandshake, err)
	}
	if len(certs) == 0 {
		return nil, connerr.Protocol(opHandshake, ErrNoCertificate)
	}
	return certs, nil
}

func (d *Dialer) LoginByToken(ctx context.Context, host *url.URL, token *federation.SecurityToken, signer wssecurity.Signer) (endpoint.Credential, error) {
	if token == nil || len(token.Assertion) == 0 {
		return endpoint.Credential{}, connerr.Authentication(opLogin, ErrNoToken)
	}

	body := []byte(loginByTokenBody)
	security := &wssecurity.Security{
		Timestamp: wssecurity.NewTimestamp(d.clock, requestTimestampTTL),
		Assertion: token.Assertion,
	}
	req := &soap.Request{Op: opLogin, Action: actionVIM, Body: body}

	if token.Kind == federation.HolderOfKey {
		if signer == nil {
			return endpoint.Credential{}, connerr.Authentication(opLogin, ErrNoSigner)
		}
		req.BodyID = wssecurity.NewID("body")
		signature, err := wssecurity.Sign(
			signer,
			wssecurity.AssertionKeyInfo(token.ID),
			security.Timestamp.Reference(),
			wssecurity.Reference{URI: "#" + req.BodyID, Canonical: soap.BodyElement(req.BodyID, body)},
		)
		if err != nil {
			return endpoint.Credential{}, connerr.Authentication(opLogin, err)
		}
		security.Signature = signature
	}
	req.Header = security.Marshal()

	resp, err := d.soap.Call(ctx, endpoint.Inventory.URL(host).String(), req)
	if err != nil {
		return endpoint.Credential{}, err
	}
	cookie := resp.Cookie(SessionCookieName)
	if cookie == nil || cookie.Value == "" {
		return endpoint.Credential{}, connerr.Protocol(opLogin, ErrNoSessionCookie)
	}

	d.log.Debug("logged in by token", "host", host.Host, "tokenKind", token.Kind)
	return endpoint.Credential{Name: SessionCookieName, Value: cookie.Value, Placement: endpoint.PlaceCookie}, nil
}

type serviceContentResponse struct {
	About struct {
		FullName     string `xml:"fullName"`
		APIVersion   string `xml:"apiVersion"`
		InstanceUUID string `xml:"instanceUuid"`
	} `xml:"returnval>about"`
}

func (d *Dialer) About(ctx context.Context, primary *endpoint.Session) (*endpoint.HostMetadata, error) {
	resp, err := d.call(ctx, opAbout, actionVIM, primary, primary.Credential(), []byte(serviceContent))
	if err != nil {
		return nil, err
	}
	var content serviceContentResponse
	if err := resp.Decode(&content); err != nil {
		return nil, connerr.Protocol(opAbout, err)
	}
	if content.About.APIVersion == "" {
		return nil, connerr.Protocol(opAbout, constable.Error("service content has no API version"))
	}
	return &endpoint.HostMetadata{
		APIVersion:   content.About.APIVersion,
		InstanceUUID: content.About.InstanceUUID,
		FullName:     content.About.FullName,
	}, nil
}

// LoginService derives a sub-service credential.  The SOAP sub-services accept the primary cookie as a
// vcSessionCookie header, which is checked with a round trip.  The automation service issues its own session id.
func (d *Dialer) LoginService(ctx context.Context, kind endpoint.Kind, primary *endpoint.Session) (endpoint.Credential, error) {
	op := "login to " + kind.String()
	cookie := primary.Credential()
	if cookie.IsZero() {
		return endpoint.Credential{}, connerr.Authentication(op, endpoint.ErrSessionClosed)
	}
	service := endpoint.NewSession(kind, kind.URL(hostBase(primary)), d.httpClient, endpoint.Credential{})

	switch kind {
	case endpoint.StoragePolicy, endpoint.DiskLifecycle:
		credential := endpoint.Credential{Name: ServiceCookieName, Value: cookie.Value, Placement: endpoint.PlaceSOAPHeader}
		if err := d.pingSOAPService(ctx, op, service, credential); err != nil {
			return endpoint.Credential{}, err
		}
		return credential, nil
	case endpoint.Automation:
		return d.createAutomationSession(ctx, op, service, cookie)
	default:
		return endpoint.Credential{}, connerr.Protocol(op, fmt.Errorf("%s is not a sub-service", kind))
	}
}

func (d *Dialer) createAutomationSession(ctx context.Context, op string, service *endpoint.Session, primary endpoint.Credential) (endpoint.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, service.URL().JoinPath(automationSession).String(), nil)
	if err != nil {
		return endpoint.Credential{}, connerr.Protocol(op, err)
	}
	req.Header.Set(AutomationHeaderName, primary.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return endpoint.Credential{}, connerr.Transport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := connerr.FromHTTPStatus(op, resp.StatusCode, ""); err != nil {
		return endpoint.Credential{}, err
	}
	var id string
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return endpoint.Credential{}, connerr.Protocol(op, fmt.Errorf("could not decode session id: %w", err))
	}
	if id == "" {
		return endpoint.Credential{}, connerr.Protocol(op, constable.Error("empty session id"))
	}
	return endpoint.Credential{Name: AutomationHeaderName, Value: id, Placement: endpoint.PlaceHeader}, nil
}

func (d *Dialer) Ping(ctx context.Context, session *endpoint.Session) error {
	op := opPing + " " + session.Kind().String()
	switch session.Kind() {
	case endpoint.Inventory:
		_, err := d.call(ctx, op, actionVIM, session, session.Credential(), []byte(currentTimeBody))
		return err
	case endpoint.StoragePolicy, endpoint.DiskLifecycle:
		return d.pingSOAPService(ctx, op, session, session.Credential())
	default:
		return d.rest(ctx, op, http.MethodGet, session)
	}
}

func (d *Dialer) Logout(ctx context.Context, session *endpoint.Session) error {
	op := opLogout + " " + session.Kind().String()
	switch session.Kind() {
	case endpoint.Inventory:
		_, err := d.call(ctx, op, actionVIM, session, session.Credential(), []byte(logoutBody))
		return err
	case endpoint.Automation:
		return d.rest(ctx, op, http.MethodDelete, session)
	default:
		// these sessions ride on the primary session and end with it
		return nil
	}
}

type taskPropertiesResponse struct {
	Objects []struct {
		Properties []struct {
			Name  string `xml:"name"`
			Value struct {
				Text             string `xml:",chardata"`
				LocalizedMessage string `xml:"localizedMessage"`
			} `xml:"val"`
		} `xml:"propSet"`
	} `xml:"returnval>objects"`
}

func (d *Dialer) OperationStatus(ctx context.Context, primary *endpoint.Session, id string) (*asyncop.Status, error) {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(id))

	resp, err := d.call(ctx, opOperationStatus, actionVIM, primary, primary.Credential(), []byte(fmt.Sprintf(taskPropsFormat, escaped.String())))
	if err != nil {
		return nil, err
	}
	var props taskPropertiesResponse
	if err := resp.Decode(&props); err != nil {
		return nil, connerr.Protocol(opOperationStatus, err)
	}
	if len(props.Objects) == 0 {
		return nil, connerr.Protocol(opOperationStatus, fmt.Errorf("%w: %s", ErrOperationAbsent, id))
	}

	status := &asyncop.Status{}
	for _, p := range props.Objects[0].Properties {
		value := strings.TrimSpace(p.Value.Text)
		switch p.Name {
		case "info.state":
			status.State = asyncop.State(value)
		case "info.progress":
			if value == "" {
				continue
			}
			progress, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return nil, connerr.Protocol(opOperationStatus, fmt.Errorf("invalid progress %q", value))
			}
			p32 := int32(progress)
			status.Progress = &p32
		case "info.error":
			status.Message = strings.TrimSpace(p.Value.LocalizedMessage)
		}
	}

	switch status.State {
	case asyncop.Queued, asyncop.Running, asyncop.Success, asyncop.Error:
		return status, nil
	default:
		return nil, connerr.Protocol(opOperationStatus, fmt.Errorf("unknown operation state %q", status.State))
	}
}

func (d *Dialer) pingSOAPService(ctx context.Context, op string, session *endpoint.Session, credential endpoint.Credential) error {
	body, action := pbmContentBody, actionPBM
	if session.Kind() == endpoint.DiskLifecycle {
		body, action = vslmContentBody, actionVSLM
	}
	_, err := d.call(ctx, op, action, session, credential, []byte(body))
	return err
}

// call sends a SOAP request to the service of session, authenticated with credential.
func (d *Dialer) call(ctx context.Context, op, action string, session *endpoint.Session, credential endpoint.Credential, body []byte) (*soap.Response, error) {
	if credential.IsZero() {
		return nil, connerr.Protocol(op, endpoint.ErrSessionClosed)
	}
	return d.soap.Call(ctx, session.URL().String(), &soap.Request{
		Op:       op,
		Action:   action,
		Header:   credential.SOAPHeader(),
		Body:     body,
		Decorate: credential.Apply,
	})
}

func (d *Dialer) rest(ctx context.Context, op, method string, session *endpoint.Session) error {
	req, err := http.NewRequestWithContext(ctx, method, session.URL().JoinPath(automationSession).String(), nil)
	if err != nil {
		return connerr.Protocol(op, err)
	}
	resp, err := session.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return connerr.FromHTTPStatus(op, resp.StatusCode, "")
}

// hostBase is the URL of the host behind session, so that sibling services share its path prefix.
func hostBase(session *endpoint.Session) *url.URL {
	return session.Kind().Base(session.URL())
}
