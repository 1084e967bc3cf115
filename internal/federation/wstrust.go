// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"time"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/soap"
	"go.pinniped.dev/safekeeping/internal/wssecurity"
)

const (
	namespaceWSTrust = "http://docs.oasis-open.org/ws-sx/ws-trust/200512"

	actionIssue = namespaceWSTrust + "/RST/Issue"
	actionRenew = namespaceWSTrust + "/RST/Renew"

	requestTypeIssue = namespaceWSTrust + "/Issue"
	requestTypeRenew = namespaceWSTrust + "/Renew"

	keyTypeBearer    = namespaceWSTrust + "/Bearer"
	keyTypePublicKey = namespaceWSTrust + "/PublicKey"

	tokenTypeSAML2 = "urn:oasis:names:tc:SAML:2.0:assertion"

	// requestTimestampTTL bounds how long a signed request can be replayed.
	requestTimestampTTL = 10 * time.Minute

	opIssue = "issue token"
	opRenew = "renew token"
)

// CertificateConfig configures the WS-Trust strategy.
type CertificateConfig struct {
	// STSURL is the identity provider's security token service endpoint.
	STSURL string
	Client *soap.Client
	// KeyPair signs every request.  A nil KeyPair makes Connect fail with an AuthenticationError.
	KeyPair *KeyPair
	// HolderOfKey requests tokens bound to KeyPair instead of bearer tokens.
	HolderOfKey bool
}

type certificateStrategy struct {
	config CertificateConfig
	opts   Options
}

// NewCertificateProvider returns a Provider that signs WS-Trust requests with a certificate and its key.
func NewCertificateProvider(config CertificateConfig, opts Options) Provider {
	opts = opts.withDefaults()
	return newProvider(&certificateStrategy{config: config, opts: opts}, opts)
}

func (s *certificateStrategy) name() string {
	if s.config.HolderOfKey {
		return "certificate-hok"
	}
	return "certificate-bearer"
}

func (s *certificateStrategy) signer() wssecurity.Signer {
	if !s.config.HolderOfKey || s.config.KeyPair == nil {
		return nil
	}
	return wssecurity.NewSigner(s.config.KeyPair.Certificate, s.config.KeyPair.PrivateKey)
}

func (s *certificateStrategy) issue(ctx context.Context, lifetime time.Duration) (*SecurityToken, error) {
	return s.call(ctx, opIssue, actionIssue, s.requestBody(requestTypeIssue, nil, lifetime))
}

func (s *certificateStrategy) renew(ctx context.Context, current *SecurityToken, lifetime time.Duration) (*SecurityToken, error) {
	if current == nil {
		// nothing left to renew, so start a new session with the identity provider
		return s.issue(ctx, lifetime)
	}
	return s.call(ctx, opRenew, actionRenew, s.requestBody(requestTypeRenew, current, lifetime))
}

func (s *certificateStrategy) requestBody(requestType string, renewTarget *SecurityToken, lifetime time.Duration) []byte {
	now := s.opts.Clock.Now()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<wst:RequestSecurityToken xmlns:wst="%s">`, namespaceWSTrust)
	fmt.Fprintf(&buf, `<wst:TokenType>%s</wst:TokenType>`, tokenTypeSAML2)
	fmt.Fprintf(&buf, `<wst:RequestType>%s</wst:RequestType>`, requestType)
	if renewTarget != nil {
		buf.WriteString(`<wst:RenewTarget>`)
		buf.Write(renewTarget.Assertion)
		buf.WriteString(`</wst:RenewTarget>`)
	}
	fmt.Fprintf(&buf, `<wst:Lifetime><wsu:Created xmlns:wsu="%[1]s">%[2]s</wsu:Created><wsu:Expires xmlns:wsu="%[1]s">%[3]s</wsu:Expires></wst:Lifetime>`,
		wssecurity.NamespaceWSU, wssecurity.FormatTime(now), wssecurity.FormatTime(now.Add(lifetime)))
	if renewTarget == nil {
		buf.WriteString(`<wst:Renewing Allow="true" OK="false"></wst:Renewing>`)
		buf.WriteString(`<wst:Delegatable>true</wst:Delegatable>`)
		if s.config.HolderOfKey {
			fmt.Fprintf(&buf, `<wst:KeyType>%s</wst:KeyType>`, keyTypePublicKey)
			if method := signatureAlgorithm(s.config.KeyPair); method != "" {
				fmt.Fprintf(&buf, `<wst:SignatureAlgorithm>%s</wst:SignatureAlgorithm>`, method)
			}
		} else {
			fmt.Fprintf(&buf, `<wst:KeyType>%s</wst:KeyType>`, keyTypeBearer)
		}
	}
	buf.WriteString(`</wst:RequestSecurityToken>`)
	return buf.Bytes()
}

// call signs the request over its timestamp and body with the key pair, which the identity provider
// resolves through the embedded binary security token.
func (s *certificateStrategy) call(ctx context.Context, op, action string, body []byte) (*SecurityToken, error) {
	kp := s.config.KeyPair
	if kp == nil || kp.Certificate == nil || kp.PrivateKey == nil {
		return nil, connerr.Authentication(op, ErrMissingCredentials)
	}

	ts := wssecurity.NewTimestamp(s.opts.Clock, requestTimestampTTL)
	bodyID := wssecurity.NewID("body")
	bstID := wssecurity.NewID("cert")

	signature, err := wssecurity.Sign(
		wssecurity.NewSigner(kp.Certificate, kp.PrivateKey),
		wssecurity.BinarySecurityTokenKeyInfo(bstID),
		ts.Reference(),
		wssecurity.Reference{URI: "#" + bodyID, Canonical: soap.BodyElement(bodyID, body)},
	)
	if err != nil {
		return nil, connerr.Authentication(op, err)
	}

	header := (&wssecurity.Security{
		Timestamp:             ts,
		BinarySecurityToken:   kp.Certificate.Raw,
		BinarySecurityTokenID: bstID,
		Signature:             signature,
	}).Marshal()

	resp, err := s.config.Client.Call(ctx, s.config.STSURL, &soap.Request{
		Op:     op,
		Action: action,
		Header: header,
		Body:   body,
		BodyID: bodyID,
	})
	if err != nil {
		return nil, err
	}

	raw, err := requestedAssertion(resp)
	if err != nil {
		return nil, connerr.Protocol(op, err)
	}
	return ParseAssertion(raw)
}

type requestSecurityTokenResponse struct {
	RequestedSecurityToken struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"RequestedSecurityToken"`
}

// Issue answers with a collection of responses while Renew answers with a single response.
func requestedAssertion(resp *soap.Response) ([]byte, error) {
	var collection struct {
		Responses []requestSecurityTokenResponse `xml:"RequestSecurityTokenResponse"`
	}
	if err := resp.Decode(&collection); err != nil {
		return nil, err
	}
	for _, r := range collection.Responses {
		if inner := bytes.TrimSpace(r.RequestedSecurityToken.Inner); len(inner) > 0 {
			return inner, nil
		}
	}

	var single requestSecurityTokenResponse
	if err := resp.Decode(&single); err != nil {
		return nil, err
	}
	if inner := bytes.TrimSpace(single.RequestedSecurityToken.Inner); len(inner) > 0 {
		return inner, nil
	}

	return nil, constable.Error("response contains no requested security token")
}

func signatureAlgorithm(kp *KeyPair) string {
	if kp == nil || kp.PrivateKey == nil {
		return ""
	}
	switch kp.PrivateKey.Public().(type) {
	case *rsa.PublicKey:
		return wssecurity.AlgorithmRSA256
	case *ecdsa.PublicKey:
		return wssecurity.AlgorithmECDSA256
	default:
		return ""
	}
}
