// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"

	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/wssecurity"
)

const (
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
	tokenTypeIDToken       = "urn:ietf:params:oauth:token-type:id_token"
	tokenTypeSAML2Exchange = "urn:ietf:params:oauth:token-type:saml2"

	opRefresh  = "refresh access token"
	opIDToken  = "verify id token"
	opExchange = "exchange token"

	maxExchangeResponseBytes = 1 << 20
)

// supportedIDTokenAlgorithms are accepted when an id token is parsed without an issuer to verify against.
var supportedIDTokenAlgorithms = []jose.SignatureAlgorithm{ //nolint:gochecknoglobals
	jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512, jose.PS256,
}

// ExchangeConfig configures the refresh token exchange strategy.
type ExchangeConfig struct {
	// TokenURL redeems the refresh token for an access token and an id token.
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Issuer, when set, is used for OIDC discovery so that id tokens are verified against its keys.
	Issuer string
	// ExchangeURL trades the access token and the id token for a SAML assertion.
	ExchangeURL  string
	HTTPClient   *http.Client
	RefreshToken *RefreshToken
}

type exchangeStrategy struct {
	config ExchangeConfig
	opts   Options

	verifierMu sync.Mutex
	verifier   *oidc.IDTokenVerifier
}

// NewExchangeProvider returns a Provider that trades an OAuth2 refresh token for bearer SAML assertions.
// There is no renewable session on the identity provider in this mode, so renewal repeats the exchange.
func NewExchangeProvider(config ExchangeConfig, opts Options) Provider {
	opts = opts.withDefaults()
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return newProvider(&exchangeStrategy{config: config, opts: opts}, opts)
}

func (s *exchangeStrategy) name() string { return "token-exchange" }

func (s *exchangeStrategy) signer() wssecurity.Signer { return nil }

func (s *exchangeStrategy) renew(ctx context.Context, _ *SecurityToken, lifetime time.Duration) (*SecurityToken, error) {
	return s.issue(ctx, lifetime)
}

func (s *exchangeStrategy) issue(ctx context.Context, _ time.Duration) (*SecurityToken, error) {
	if s.config.RefreshToken == nil || s.config.RefreshToken.Value == "" {
		return nil, connerr.Authentication(opRefresh, ErrMissingCredentials)
	}

	tok, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}

	idToken, ok := tok.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, connerr.Protocol(opRefresh, constable.Error("received response missing ID token"))
	}
	if err := s.verifyIDToken(ctx, idToken); err != nil {
		return nil, err
	}

	return s.exchange(ctx, tok.AccessToken, idToken)
}

func (s *exchangeStrategy) refresh(ctx context.Context) (*oauth2.Token, error) {
	config := &oauth2.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.config.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.config.HTTPClient)
	// an expired token with only a refresh token makes the token source perform the refresh grant
	tok, err := config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.config.RefreshToken.Value}).Token()
	if err != nil {
		return nil, classifyOAuth2Error(opRefresh, err)
	}
	return tok, nil
}

func classifyOAuth2Error(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		switch code := retrieveErr.Response.StatusCode; code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return connerr.Authentication(op, err)
		default:
			if classified := connerr.FromHTTPStatus(op, code, retrieveErr.ErrorCode); classified != nil {
				return classified
			}
			return connerr.Protocol(op, err)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return connerr.Transport(op, err)
	}
	return connerr.Protocol(op, err)
}

func (s *exchangeStrategy) verifyIDToken(ctx context.Context, raw string) error {
	if s.config.Issuer == "" {
		return s.checkIDTokenClaims(raw)
	}

	verifier, err := s.idTokenVerifier(ctx)
	if err != nil {
		return err
	}
	if _, err := verifier.Verify(oidc.ClientContext(ctx, s.config.HTTPClient), raw); err != nil {
		return connerr.Authentication(opIDToken, err)
	}
	return nil
}

// idTokenVerifier performs discovery once and reuses the verifier, whose key set refreshes itself.
func (s *exchangeStrategy) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	s.verifierMu.Lock()
	defer s.verifierMu.Unlock()

	if s.verifier != nil {
		return s.verifier, nil
	}

	discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, s.config.HTTPClient), s.config.Issuer)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, connerr.Transport(opIDToken, err)
		}
		return nil, connerr.Protocol(opIDToken, fmt.Errorf("could not perform OIDC discovery for %s: %w", s.config.Issuer, err))
	}

	s.verifier = discovered.Verifier(&oidc.Config{
		ClientID: s.config.ClientID,
		Now:      s.opts.Clock.Now,
	})
	return s.verifier, nil
}

// checkIDTokenClaims reads the claims of an id token that cannot be verified locally.  The identity provider
// verifies the signature again during the exchange; this only avoids presenting a token that is already expired.
func (s *exchangeStrategy) checkIDTokenClaims(raw string) error {
	parsed, err := jwt.ParseSigned(raw, supportedIDTokenAlgorithms)
	if err != nil {
		return connerr.Protocol(opIDToken, fmt.Errorf("received malformed ID token: %w", err))
	}

	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return connerr.Protocol(opIDToken, fmt.Errorf("could not read ID token claims: %w", err))
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: s.opts.Clock.Now()}, jwt.DefaultLeeway); err != nil {
		return connerr.Authentication(opIDToken, err)
	}
	return nil
}

type exchangeResponse struct {
	AccessToken      string `json:"access_token"`
	IssuedTokenType  string `json:"issued_token_type"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *exchangeStrategy) exchange(ctx context.Context, accessToken, idToken string) (*SecurityToken, error) {
	reqBody := strings.NewReader(url.Values{
		"grant_type":           []string{grantTypeTokenExchange},
		"subject_token":        []string{accessToken},
		"subject_token_type":   []string{tokenTypeAccessToken},
		"actor_token":          []string{idToken},
		"actor_token_type":     []string{tokenTypeIDToken},
		"requested_token_type": []string{tokenTypeSAML2Exchange},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.ExchangeURL, reqBody)
	if err != nil {
		return nil, connerr.Protocol(opExchange, fmt.Errorf("could not build token exchange request: %w", err))
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("accept", "application/json")

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return nil, connerr.Transport(opExchange, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeResponseBytes))
	if err != nil {
		return nil, connerr.Transport(opExchange, err)
	}

	var respBody exchangeResponse
	decodeErr := json.Unmarshal(rawBody, &respBody)

	if statusErr := connerr.FromHTTPStatus(opExchange, resp.StatusCode, respBody.Error); statusErr != nil {
		if decodeErr == nil && isRejection(respBody.Error) {
			return nil, connerr.Authentication(opExchange, fmt.Errorf("%s: %s", respBody.Error, respBody.ErrorDescription))
		}
		return nil, statusErr
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("content-type"))
	if err != nil {
		return nil, connerr.Protocol(opExchange, fmt.Errorf("failed to decode content-type header: %w", err))
	}
	if mediaType != "application/json" {
		return nil, connerr.Protocol(opExchange, fmt.Errorf("unexpected HTTP response content type %q", mediaType))
	}
	if decodeErr != nil {
		return nil, connerr.Protocol(opExchange, fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if respBody.IssuedTokenType != "" && respBody.IssuedTokenType != tokenTypeSAML2Exchange {
		return nil, connerr.Protocol(opExchange, fmt.Errorf("got unexpected issued_token_type %q", respBody.IssuedTokenType))
	}

	assertion, err := decodeBase64(respBody.AccessToken)
	if err != nil {
		return nil, connerr.Protocol(opExchange, fmt.Errorf("issued token is not base64: %w", err))
	}
	return ParseAssertion(assertion)
}

func isRejection(code string) bool {
	switch code {
	case "invalid_grant", "invalid_token", "invalid_client", "unauthorized_client", "access_denied":
		return true
	default:
		return false
	}
}

// decodeBase64 accepts both alphabets, padded or not, since identity providers disagree on which to use.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return nil, err
}
