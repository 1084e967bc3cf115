// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package safekeeping contains functionality to load/store Config's from/to
// some source.
package safekeeping

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"go.pinniped.dev/safekeeping/internal/asyncop"
	"go.pinniped.dev/safekeeping/internal/connregistry"
	"go.pinniped.dev/safekeeping/internal/constable"
	"go.pinniped.dev/safekeeping/internal/directory"
	"go.pinniped.dev/safekeeping/internal/endpoint"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/hostconn"
	"go.pinniped.dev/safekeeping/internal/net/phttp"
)

const (
	defaultPort              = 443
	defaultSTSPath           = "/sts/STSService/vsphere.local"
	defaultLookupServicePath = "/lookupservice/sdk"
	defaultExchangePath      = "/rest/vcenter/tokenservice/token-exchange"

	errMissingHost          = constable.Error("host is required")
	errInvalidPort          = constable.Error("port must be between 1 and 65535")
	errMissingTokenExchange = constable.Error("tokenExchange.tokenURL is required when credentials.source is refreshToken")
	errHolderOfKeyNoKey     = constable.Error("holderOfKey tokens require a keystore or certificate credential source")
	errMissingKeystore      = constable.Error("keystore.path is required when source is keystore")
	errMissingCertificate   = constable.Error("certificate.certFile and certificate.keyFile are required when source is certificate")
	errMissingRefreshToken  = constable.Error("refreshToken.tokenFile or the SAFEKEEPING_REFRESH_TOKEN environment variable is required when source is refreshToken")
	errKeepAliveTooLong     = constable.Error("keepAliveInterval must be shorter than token.lifetime")
	errNegativeConcurrency  = constable.Error("maxConcurrentHosts must not be negative")
)

// FromPath loads a Config from a provided local file path, inserts any
// defaults (from the Config documentation), and verifies that the config is
// valid (per the Config documentation).
//
// Secrets may be supplied through the SAFEKEEPING_REFRESH_TOKEN and
// SAFEKEEPING_KEYSTORE_PASSWORD environment variables, which take precedence
// over the file.
func FromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if err := applySecretEnv(&config.Credentials); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	maybeSetIdentityProviderDefaults(&config.IdentityProvider)
	maybeSetTokenDefaults(&config.Token, config.Credentials.Source)
	maybeSetDurationDefault(&config.Operations.PollInterval, asyncop.DefaultPollInterval)
	maybeSetDurationDefault(&config.Operations.MaxWait, asyncop.DefaultMaxWait)
	maybeSetDurationDefault(&config.Connection.Timeout, phttp.DefaultTimeout)
	maybeSetServicesDefaults(&config.Services)

	if config.KeepAliveInterval == nil {
		config.KeepAliveInterval = &metav1.Duration{Duration: config.Token.Lifetime.Duration / 2}
	}
	if config.Connection.MaxConcurrentHosts == 0 {
		config.Connection.MaxConcurrentHosts = connregistry.DefaultMaxConcurrentHosts
	}

	if err := validateIdentityProvider(config.IdentityProvider); err != nil {
		return nil, fmt.Errorf("validate identityProvider: %w", err)
	}

	if _, err := directory.NewStatic(config.StaticHosts()); err != nil {
		return nil, fmt.Errorf("validate hosts: %w", err)
	}

	if err := validateCredentials(config.Credentials, config.IdentityProvider); err != nil {
		return nil, fmt.Errorf("validate credentials: %w", err)
	}

	if err := validateToken(config.Token, config.Credentials.Source); err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}

	if err := validateKeepAliveInterval(config.KeepAliveInterval.Duration, config.Token.Lifetime.Duration); err != nil {
		return nil, fmt.Errorf("validate keepAliveInterval: %w", err)
	}

	if err := validateOperations(config.Operations); err != nil {
		return nil, fmt.Errorf("validate operations: %w", err)
	}

	if err := validateConnection(config.Connection); err != nil {
		return nil, fmt.Errorf("validate connection: %w", err)
	}

	if err := config.Log.Validate(); err != nil {
		return nil, fmt.Errorf("validate log: %w", err)
	}

	return &config, nil
}

// STSURL is the identity provider's security token service endpoint.
func (c *Config) STSURL() string {
	return c.identityProviderURL(c.IdentityProvider.STSPath)
}

// LookupServiceURL is the identity provider's lookup service endpoint.
func (c *Config) LookupServiceURL() string {
	return c.identityProviderURL(c.IdentityProvider.LookupServicePath)
}

// ExchangeURL is where access tokens are exchanged for assertions, or empty without a tokenExchange.
func (c *Config) ExchangeURL() string {
	if c.IdentityProvider.TokenExchange == nil {
		return ""
	}
	return c.identityProviderURL(c.IdentityProvider.TokenExchange.ExchangePath)
}

func (c *Config) identityProviderURL(path string) string {
	u := url.URL{
		Scheme: "https",
		Host:   net.JoinHostPort(c.IdentityProvider.Host, strconv.Itoa(int(c.IdentityProvider.Port))),
		Path:   path,
	}
	return u.String()
}

// StaticHosts is the configured host list, or nil when hosts are discovered.
func (c *Config) StaticHosts() []directory.StaticHost {
	if len(c.Hosts) == 0 {
		return nil
	}
	out := make([]directory.StaticHost, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		out = append(out, directory.StaticHost{ID: h.ID, URL: h.URL})
	}
	return out
}

// CredentialSpec names the credential material to load.
func (c *Config) CredentialSpec() federation.CredentialSpec {
	spec := federation.CredentialSpec{Source: c.Credentials.Source}
	if ks := c.Credentials.Keystore; ks != nil {
		spec.KeystorePath = ks.Path
		spec.KeystorePassword = ks.Password
	}
	if crt := c.Credentials.Certificate; crt != nil {
		spec.CertFile = crt.CertFile
		spec.KeyFile = crt.KeyFile
	}
	if rt := c.Credentials.RefreshToken; rt != nil {
		spec.RefreshToken = rt.Value
		spec.RefreshTokenFile = rt.TokenFile
	}
	return spec
}

// EnabledServices is the set of sub-services to open on every host.
func (c *Config) EnabledServices() sets.Set[endpoint.Kind] {
	enabled := sets.New[endpoint.Kind]()
	for kind, on := range map[endpoint.Kind]*bool{
		endpoint.StoragePolicy: c.Services.StoragePolicy,
		endpoint.DiskLifecycle: c.Services.DiskLifecycle,
		endpoint.Automation:    c.Services.Automation,
	} {
		if ptr.Deref(on, true) {
			enabled.Insert(kind)
		}
	}
	return enabled
}

func applySecretEnv(creds *CredentialsSpec) error {
	var env secretEnv
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return err
	}

	if env.RefreshToken != "" {
		if creds.RefreshToken == nil {
			creds.RefreshToken = &RefreshTokenSpec{}
		}
		creds.RefreshToken.Value = env.RefreshToken
	}
	if env.KeystorePassword != "" && creds.Keystore != nil {
		creds.Keystore.Password = env.KeystorePassword
	}
	return nil
}

func maybeSetIdentityProviderDefaults(idp *IdentityProviderSpec) {
	if idp.Port == 0 {
		idp.Port = defaultPort
	}
	if idp.STSPath == "" {
		idp.STSPath = defaultSTSPath
	}
	if idp.LookupServicePath == "" {
		idp.LookupServicePath = defaultLookupServicePath
	}
	if idp.TokenExchange != nil && idp.TokenExchange.ExchangePath == "" {
		idp.TokenExchange.ExchangePath = defaultExchangePath
	}
}

func maybeSetTokenDefaults(token *TokenSpec, source federation.CredentialSource) {
	maybeSetDurationDefault(&token.Lifetime, federation.DefaultLifetime)
	if token.HolderOfKey == nil {
		token.HolderOfKey = ptr.To(source != federation.SourceRefreshToken)
	}
}

func maybeSetDurationDefault(d *metav1.Duration, defaultValue time.Duration) {
	if d.Duration == 0 {
		d.Duration = defaultValue
	}
}

func maybeSetServicesDefaults(services *ServicesSpec) {
	for _, s := range []**bool{&services.StoragePolicy, &services.DiskLifecycle, &services.Automation} {
		if *s == nil {
			*s = ptr.To(true)
		}
	}
}

func validateIdentityProvider(idp IdentityProviderSpec) error {
	if idp.Host == "" {
		return errMissingHost
	}
	if idp.Port < 1 || idp.Port > 65535 {
		return errInvalidPort
	}
	if te := idp.TokenExchange; te != nil && te.TokenURL != "" {
		if _, err := url.ParseRequestURI(te.TokenURL); err != nil {
			return fmt.Errorf("invalid tokenExchange.tokenURL: %w", err)
		}
	}
	return nil
}

func validateCredentials(creds CredentialsSpec, idp IdentityProviderSpec) error {
	switch creds.Source {
	case federation.SourceKeystore:
		if creds.Keystore == nil || creds.Keystore.Path == "" {
			return errMissingKeystore
		}
	case federation.SourceCertificate:
		if creds.Certificate == nil || creds.Certificate.CertFile == "" || creds.Certificate.KeyFile == "" {
			return errMissingCertificate
		}
	case federation.SourceRefreshToken:
		if creds.RefreshToken == nil || (creds.RefreshToken.TokenFile == "" && creds.RefreshToken.Value == "") {
			return errMissingRefreshToken
		}
		if idp.TokenExchange == nil || idp.TokenExchange.TokenURL == "" {
			return errMissingTokenExchange
		}
	default:
		return fmt.Errorf("unknown source %q, valid choices are %s, %s and %s",
			creds.Source, federation.SourceKeystore, federation.SourceCertificate, federation.SourceRefreshToken)
	}
	return nil
}

func validateToken(token TokenSpec, source federation.CredentialSource) error {
	if token.Lifetime.Duration < 0 {
		return fmt.Errorf("lifetime must be positive, got %s", token.Lifetime.Duration)
	}
	if *token.HolderOfKey && source == federation.SourceRefreshToken {
		return errHolderOfKeyNoKey
	}
	return nil
}

func validateKeepAliveInterval(interval, lifetime time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("must be positive, got %s", interval)
	}
	if interval >= lifetime {
		return errKeepAliveTooLong
	}
	return nil
}

func validateOperations(ops OperationsSpec) error {
	if ops.PollInterval.Duration < 0 {
		return fmt.Errorf("pollInterval must be positive, got %s", ops.PollInterval.Duration)
	}
	if ops.MaxWait.Duration < ops.PollInterval.Duration {
		return fmt.Errorf("maxWait %s must not be shorter than pollInterval %s", ops.MaxWait.Duration, ops.PollInterval.Duration)
	}
	return nil
}

func validateConnection(conn ConnectionSpec) error {
	if conn.Timeout.Duration < 0 {
		return fmt.Errorf("timeout must be positive, got %s", conn.Timeout.Duration)
	}
	if conn.MaxConcurrentHosts < 0 {
		return errNegativeConcurrency
	}
	if conn.MinimumAPIVersion != "" {
		if _, err := hostconn.ParseAPIVersion(conn.MinimumAPIVersion); err != nil {
			return err
		}
	}
	return nil
}
