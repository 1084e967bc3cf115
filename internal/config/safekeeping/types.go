// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package safekeeping

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/plog"
)

// Config contains knobs to set up a session with the identity provider and every managed host.
type Config struct {
	IdentityProvider IdentityProviderSpec `json:"identityProvider"`
	// Hosts, when set, replaces discovery through the identity provider's lookup service.
	Hosts             []HostSpec       `json:"hosts,omitempty"`
	Credentials       CredentialsSpec  `json:"credentials"`
	Token             TokenSpec        `json:"token"`
	KeepAliveInterval *metav1.Duration `json:"keepAliveInterval,omitempty"`
	Operations        OperationsSpec   `json:"operations"`
	Services          ServicesSpec     `json:"services"`
	Connection        ConnectionSpec   `json:"connection"`
	Log               plog.LogSpec     `json:"log"`
}

// IdentityProviderSpec locates the identity provider.
type IdentityProviderSpec struct {
	Host              string             `json:"host"`
	Port              int32              `json:"port,omitempty"`
	CABundleFile      string             `json:"caBundleFile,omitempty"`
	STSPath           string             `json:"stsPath,omitempty"`
	LookupServicePath string             `json:"lookupServicePath,omitempty"`
	TokenExchange     *TokenExchangeSpec `json:"tokenExchange,omitempty"`
}

// TokenExchangeSpec configures the refresh token exchange.  It is required when credentials.source is refreshToken.
type TokenExchangeSpec struct {
	TokenURL     string `json:"tokenURL"`
	ClientID     string `json:"clientID,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Issuer       string `json:"issuer,omitempty"`
	ExchangePath string `json:"exchangePath,omitempty"`
}

type HostSpec struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

type CredentialsSpec struct {
	Source       federation.CredentialSource `json:"source"`
	Keystore     *KeystoreSpec               `json:"keystore,omitempty"`
	Certificate  *CertificateSpec            `json:"certificate,omitempty"`
	RefreshToken *RefreshTokenSpec           `json:"refreshToken,omitempty"`
}

type KeystoreSpec struct {
	Path     string `json:"path"`
	Password string `json:"password,omitempty"`
}

type CertificateSpec struct {
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

type RefreshTokenSpec struct {
	TokenFile string `json:"tokenFile,omitempty"`
	// Value is only ever read from the environment.
	Value string `json:"-"`
}

type TokenSpec struct {
	Lifetime    metav1.Duration `json:"lifetime,omitempty"`
	HolderOfKey *bool           `json:"holderOfKey,omitempty"`
}

type OperationsSpec struct {
	PollInterval metav1.Duration `json:"pollInterval,omitempty"`
	MaxWait      metav1.Duration `json:"maxWait,omitempty"`
}

// ServicesSpec enables sub-services individually.  Unset means enabled.
type ServicesSpec struct {
	StoragePolicy *bool `json:"storagePolicy,omitempty"`
	DiskLifecycle *bool `json:"diskLifecycle,omitempty"`
	Automation    *bool `json:"automation,omitempty"`
}

type ConnectionSpec struct {
	Timeout            metav1.Duration `json:"timeout,omitempty"`
	MaxConcurrentHosts int             `json:"maxConcurrentHosts,omitempty"`
	MinimumAPIVersion  string          `json:"minimumAPIVersion,omitempty"`
}

// secretEnv holds the secrets that may be supplied through the environment instead of the file.
type secretEnv struct {
	RefreshToken     string `env:"SAFEKEEPING_REFRESH_TOKEN"`
	KeystorePassword string `env:"SAFEKEEPING_KEYSTORE_PASSWORD"`
}
