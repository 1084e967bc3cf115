// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
)

// TokenKind says how a token is bound to its presenter.
type TokenKind string

const (
	// Bearer tokens are usable by whoever holds them.
	Bearer TokenKind = "bearer"
	// HolderOfKey tokens are bound to the private key of the requester, who must sign every use.
	HolderOfKey TokenKind = "holder-of-key"

	confirmationBearer      = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
	confirmationHolderOfKey = "urn:oasis:names:tc:SAML:2.0:cm:holder-of-key"

	opParseAssertion = "parse assertion"
)

// SecurityToken is a signed SAML 2.0 assertion and the facts about it needed to use and renew it.
// It is immutable once parsed, which is what makes publishing it through an atomic pointer safe.
type SecurityToken struct {
	// Assertion is the raw saml2:Assertion element exactly as issued.
	Assertion []byte
	ID        string
	Subject   string
	Issuer    string
	Kind      TokenKind
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
}

// Valid reports whether now falls within the validity window.
func (t *SecurityToken) Valid(now time.Time) bool {
	if t == nil {
		return false
	}
	return !now.Before(t.NotBefore) && now.Before(t.ExpiresAt)
}

// Remaining is how long the token stays valid after now, never negative.
func (t *SecurityToken) Remaining(now time.Time) time.Duration {
	if !t.Valid(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

type samlAssertion struct {
	XMLName      xml.Name `xml:"Assertion"`
	ID           string   `xml:"ID,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	Issuer       string   `xml:"Issuer"`
	Signature    *struct {
		Value string `xml:"SignatureValue"`
	} `xml:"Signature"`
	Subject struct {
		NameID       string `xml:"NameID"`
		Confirmation struct {
			Method string `xml:"Method,attr"`
		} `xml:"SubjectConfirmation"`
	} `xml:"Subject"`
	Conditions struct {
		NotBefore    string `xml:"NotBefore,attr"`
		NotOnOrAfter string `xml:"NotOnOrAfter,attr"`
	} `xml:"Conditions"`
}

// ParseAssertion validates the shape of a SAML 2.0 assertion.  Anything that is not a signed assertion with an
// id, a subject and a validity window is a ProtocolError, since that means the identity provider answered
// with something other than a token rather than rejecting the credentials.
func ParseAssertion(raw []byte) (*SecurityToken, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, connerr.Protocol(opParseAssertion, constable.Error("response contains no assertion"))
	}

	var a samlAssertion
	if err := xml.Unmarshal(raw, &a); err != nil {
		return nil, connerr.Protocol(opParseAssertion, fmt.Errorf("malformed assertion: %w", err))
	}

	switch {
	case a.Signature == nil || strings.TrimSpace(a.Signature.Value) == "":
		return nil, connerr.Protocol(opParseAssertion, constable.Error("assertion is not signed"))
	case a.ID == "":
		return nil, connerr.Protocol(opParseAssertion, constable.Error("assertion has no ID"))
	case strings.TrimSpace(a.Subject.NameID) == "":
		return nil, connerr.Protocol(opParseAssertion, constable.Error("assertion has no subject"))
	}

	notBefore, err := parseSAMLTime("NotBefore", a.Conditions.NotBefore)
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseSAMLTime("NotOnOrAfter", a.Conditions.NotOnOrAfter)
	if err != nil {
		return nil, err
	}
	if !expiresAt.After(notBefore) {
		return nil, connerr.Protocol(opParseAssertion, fmt.Errorf("assertion expires at %s before it becomes valid at %s", expiresAt, notBefore))
	}

	issuedAt := notBefore
	if a.IssueInstant != "" {
		if issuedAt, err = parseSAMLTime("IssueInstant", a.IssueInstant); err != nil {
			return nil, err
		}
	}

	kind := Bearer
	if a.Subject.Confirmation.Method == confirmationHolderOfKey {
		kind = HolderOfKey
	}

	return &SecurityToken{
		Assertion: raw,
		ID:        a.ID,
		Subject:   strings.TrimSpace(a.Subject.NameID),
		Issuer:    strings.TrimSpace(a.Issuer),
		Kind:      kind,
		IssuedAt:  issuedAt,
		NotBefore: notBefore,
		ExpiresAt: expiresAt,
	}, nil
}

func parseSAMLTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, connerr.Protocol(opParseAssertion, fmt.Errorf("assertion has no %s", name))
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, connerr.Protocol(opParseAssertion, fmt.Errorf("assertion has invalid %s: %w", name, err))
	}
	return t.UTC(), nil
}
