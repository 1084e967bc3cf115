// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package wssecurity builds WS-Security SOAP headers: timestamps, X.509 binary security tokens,
// embedded SAML assertions and enveloping XML signatures over them.
//
// Every element that gets signed is generated by this package (or by soap.BodyElement) directly in
// exclusive canonical form, which is what allows digests to be computed without a general canonicalizer.
package wssecurity

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"go.pinniped.dev/safekeeping/internal/soap"
)

const (
	NamespaceWSSE   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NamespaceWSSE11 = "http://docs.oasis-open.org/wss/oasis-wss-wssecurity-secext-1.1.xsd"
	NamespaceWSU    = soap.NamespaceWSU
	NamespaceDS     = "http://www.w3.org/2000/09/xmldsig#"

	ValueTypeX509v3   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	EncodingBase64    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
	TokenTypeSAML20   = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLV2.0"
	ValueTypeSAMLID   = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLID"
	AlgorithmExcC14N  = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgorithmSHA256   = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmRSA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmECDSA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"

	timeLayout = "2006-01-02T15:04:05.000Z"
)

// NewID returns a fresh document-unique id usable as a wsu:Id.
func NewID(prefix string) string {
	return fmt.Sprintf("_%s-%s", prefix, uuid.NewString())
}

// Timestamp is a wsu:Timestamp.
type Timestamp struct {
	ID      string
	Created time.Time
	Expires time.Time
}

// NewTimestamp returns a timestamp valid from now for ttl.
func NewTimestamp(clk clock.PassiveClock, ttl time.Duration) *Timestamp {
	now := clk.Now().UTC()
	return &Timestamp{
		ID:      NewID("ts"),
		Created: now,
		Expires: now.Add(ttl),
	}
}

// Canonical is the element in exclusive canonical form.
func (t *Timestamp) Canonical() []byte {
	return []byte(fmt.Sprintf(
		`<wsu:Timestamp xmlns:wsu="%s" wsu:Id="%s"><wsu:Created>%s</wsu:Created><wsu:Expires>%s</wsu:Expires></wsu:Timestamp>`,
		NamespaceWSU, t.ID, FormatTime(t.Created), FormatTime(t.Expires),
	))
}

// Reference returns a signature reference to this timestamp.
func (t *Timestamp) Reference() Reference {
	return Reference{URI: "#" + t.ID, Canonical: t.Canonical()}
}

// FormatTime renders t the way WS-Security and WS-Trust expect, in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Security accumulates the children of a wsse:Security header in the order they must appear.
type Security struct {
	Timestamp *Timestamp
	// BinarySecurityToken is the DER of an X.509 certificate, identified by BinarySecurityTokenID.
	BinarySecurityToken   []byte
	BinarySecurityTokenID string
	// Assertion is a raw saml2:Assertion element, embedded byte for byte because the issuer signed it.
	Assertion []byte
	Signature []byte
}

// Marshal renders the wsse:Security header element.
func (s *Security) Marshal() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<wsse:Security xmlns:wsse="%s" xmlns:wsu="%s">`, NamespaceWSSE, NamespaceWSU)
	if s.Timestamp != nil {
		buf.Write(s.Timestamp.Canonical())
	}
	if len(s.BinarySecurityToken) > 0 {
		fmt.Fprintf(&buf, `<wsse:BinarySecurityToken EncodingType="%s" ValueType="%s" wsu:Id="%s">%s</wsse:BinarySecurityToken>`,
			EncodingBase64, ValueTypeX509v3, s.BinarySecurityTokenID, base64.StdEncoding.EncodeToString(s.BinarySecurityToken))
	}
	buf.Write(s.Assertion)
	buf.Write(s.Signature)
	buf.WriteString("</wsse:Security>")
	return buf.Bytes()
}

// BinarySecurityTokenKeyInfo references a wsse:BinarySecurityToken in the same header.
func BinarySecurityTokenKeyInfo(tokenID string) []byte {
	return []byte(fmt.Sprintf(
		`<ds:KeyInfo><wsse:SecurityTokenReference xmlns:wsse="%s"><wsse:Reference URI="#%s" ValueType="%s"></wsse:Reference></wsse:SecurityTokenReference></ds:KeyInfo>`,
		NamespaceWSSE, tokenID, ValueTypeX509v3,
	))
}

// AssertionKeyInfo references a SAML 2.0 assertion by its ID, which is how holder-of-key requests prove possession.
func AssertionKeyInfo(assertionID string) []byte {
	return []byte(fmt.Sprintf(
		`<ds:KeyInfo><wsse:SecurityTokenReference xmlns:wsse="%s" xmlns:wsse11="%s" wsse11:TokenType="%s"><wsse:KeyIdentifier ValueType="%s">%s</wsse:KeyIdentifier></wsse:SecurityTokenReference></ds:KeyInfo>`,
		NamespaceWSSE, NamespaceWSSE11, TokenTypeSAML20, ValueTypeSAMLID, assertionID,
	))
}
