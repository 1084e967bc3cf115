// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package safekeeping

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"

	"go.pinniped.dev/safekeeping/internal/endpoint"
	"go.pinniped.dev/safekeeping/internal/federation"
	"go.pinniped.dev/safekeeping/internal/here"
	"go.pinniped.dev/safekeeping/internal/plog"
)

func TestFromPath(t *testing.T) {
	tests := []struct {
		name              string
		yaml              string
		env               map[string]string
		wantConfig        *Config
		wantError         string
		wantErrorContains string
	}{
		{
			name: "Happy",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				  port: 8443
				  caBundleFile: /etc/safekeeping/ca.pem
				  stsPath: /sts/custom
				  lookupServicePath: /ls/sdk
				hosts:
				- id: vc-1
				  url: https://vc1.example.com
				- url: https://vc2.example.com
				credentials:
				  source: certificate
				  certificate:
				    certFile: /etc/safekeeping/tls.crt
				    keyFile: /etc/safekeeping/tls.key
				token:
				  lifetime: 1h
				  holderOfKey: false
				keepAliveInterval: 10m
				operations:
				  pollInterval: 2s
				  maxWait: 30m
				services:
				  diskLifecycle: false
				connection:
				  timeout: 15s
				  maxConcurrentHosts: 3
				  minimumAPIVersion: "7.0.3"
				log:
				  level: debug
				  format: text
			`),
			wantConfig: &Config{
				IdentityProvider: IdentityProviderSpec{
					Host:              "sso.example.com",
					Port:              8443,
					CABundleFile:      "/etc/safekeeping/ca.pem",
					STSPath:           "/sts/custom",
					LookupServicePath: "/ls/sdk",
				},
				Hosts: []HostSpec{
					{ID: "vc-1", URL: "https://vc1.example.com"},
					{URL: "https://vc2.example.com"},
				},
				Credentials: CredentialsSpec{
					Source: federation.SourceCertificate,
					Certificate: &CertificateSpec{
						CertFile: "/etc/safekeeping/tls.crt",
						KeyFile:  "/etc/safekeeping/tls.key",
					},
				},
				Token: TokenSpec{
					Lifetime:    metav1.Duration{Duration: time.Hour},
					HolderOfKey: ptr.To(false),
				},
				KeepAliveInterval: &metav1.Duration{Duration: 10 * time.Minute},
				Operations: OperationsSpec{
					PollInterval: metav1.Duration{Duration: 2 * time.Second},
					MaxWait:      metav1.Duration{Duration: 30 * time.Minute},
				},
				Services: ServicesSpec{
					StoragePolicy: ptr.To(true),
					DiskLifecycle: ptr.To(false),
					Automation:    ptr.To(true),
				},
				Connection: ConnectionSpec{
					Timeout:            metav1.Duration{Duration: 15 * time.Second},
					MaxConcurrentHosts: 3,
					MinimumAPIVersion:  "7.0.3",
				},
				Log: plog.LogSpec{
					Level:  plog.LevelDebug,
					Format: plog.FormatText,
				},
			},
		},
		{
			name: "When only the required fields are present, causes other fields to be defaulted",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				    password: from-file
			`),
			wantConfig: &Config{
				IdentityProvider: IdentityProviderSpec{
					Host:              "sso.example.com",
					Port:              443,
					STSPath:           "/sts/STSService/vsphere.local",
					LookupServicePath: "/lookupservice/sdk",
				},
				Credentials: CredentialsSpec{
					Source: federation.SourceKeystore,
					Keystore: &KeystoreSpec{
						Path:     "/etc/safekeeping/keystore.p12",
						Password: "from-file",
					},
				},
				Token: TokenSpec{
					Lifetime:    metav1.Duration{Duration: 30 * time.Minute},
					HolderOfKey: ptr.To(true),
				},
				KeepAliveInterval: &metav1.Duration{Duration: 15 * time.Minute},
				Operations: OperationsSpec{
					PollInterval: metav1.Duration{Duration: 5 * time.Second},
					MaxWait:      metav1.Duration{Duration: time.Hour},
				},
				Services: ServicesSpec{
					StoragePolicy: ptr.To(true),
					DiskLifecycle: ptr.To(true),
					Automation:    ptr.To(true),
				},
				Connection: ConnectionSpec{
					Timeout:            metav1.Duration{Duration: 60 * time.Second},
					MaxConcurrentHosts: 8,
				},
			},
		},
		{
			name: "Secrets from the environment override the file",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				  tokenExchange:
				    tokenURL: https://login.example.com/oauth2/token
				    clientID: safekeeping
				credentials:
				  source: refreshToken
			`),
			env: map[string]string{
				"SAFEKEEPING_REFRESH_TOKEN":     "refresh-from-env",
				"SAFEKEEPING_KEYSTORE_PASSWORD": "ignored-without-a-keystore",
			},
			wantConfig: &Config{
				IdentityProvider: IdentityProviderSpec{
					Host:              "sso.example.com",
					Port:              443,
					STSPath:           "/sts/STSService/vsphere.local",
					LookupServicePath: "/lookupservice/sdk",
					TokenExchange: &TokenExchangeSpec{
						TokenURL:     "https://login.example.com/oauth2/token",
						ClientID:     "safekeeping",
						ExchangePath: "/rest/vcenter/tokenservice/token-exchange",
					},
				},
				Credentials: CredentialsSpec{
					Source:       federation.SourceRefreshToken,
					RefreshToken: &RefreshTokenSpec{Value: "refresh-from-env"},
				},
				Token: TokenSpec{
					Lifetime:    metav1.Duration{Duration: 30 * time.Minute},
					HolderOfKey: ptr.To(false),
				},
				KeepAliveInterval: &metav1.Duration{Duration: 15 * time.Minute},
				Operations: OperationsSpec{
					PollInterval: metav1.Duration{Duration: 5 * time.Second},
					MaxWait:      metav1.Duration{Duration: time.Hour},
				},
				Services: ServicesSpec{
					StoragePolicy: ptr.To(true),
					DiskLifecycle: ptr.To(true),
					Automation:    ptr.To(true),
				},
				Connection: ConnectionSpec{
					Timeout:            metav1.Duration{Duration: 60 * time.Second},
					MaxConcurrentHosts: 8,
				},
			},
		},
		{
			name: "Keystore password from the environment",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				    password: from-file
				connection:
				  maxConcurrentHosts: 1
			`),
			env: map[string]string{"SAFEKEEPING_KEYSTORE_PASSWORD": "from-env"},
			wantConfig: &Config{
				IdentityProvider: IdentityProviderSpec{
					Host:              "sso.example.com",
					Port:              443,
					STSPath:           "/sts/STSService/vsphere.local",
					LookupServicePath: "/lookupservice/sdk",
				},
				Credentials: CredentialsSpec{
					Source: federation.SourceKeystore,
					Keystore: &KeystoreSpec{
						Path:     "/etc/safekeeping/keystore.p12",
						Password: "from-env",
					},
				},
				Token: TokenSpec{
					Lifetime:    metav1.Duration{Duration: 30 * time.Minute},
					HolderOfKey: ptr.To(true),
				},
				KeepAliveInterval: &metav1.Duration{Duration: 15 * time.Minute},
				Operations: OperationsSpec{
					PollInterval: metav1.Duration{Duration: 5 * time.Second},
					MaxWait:      metav1.Duration{Duration: time.Hour},
				},
				Services: ServicesSpec{
					StoragePolicy: ptr.To(true),
					DiskLifecycle: ptr.To(true),
					Automation:    ptr.To(true),
				},
				Connection: ConnectionSpec{
					Timeout:            metav1.Duration{Duration: 60 * time.Second},
					MaxConcurrentHosts: 1,
				},
			},
		},
		{
			name: "Missing identity provider host",
			yaml: here.Doc(`
				---
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
			`),
			wantError: "validate identityProvider: host is required",
		},
		{
			name: "Port out of range",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				  port: 70000
			`),
			wantError: "validate identityProvider: port must be between 1 and 65535",
		},
		{
			name: "Static host that is not https",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				hosts:
				- id: vc-1
				  url: http://vc1.example.com
			`),
			wantError: `validate hosts: host "vc-1": URL must be https, but had scheme "http" instead`,
		},
		{
			name: "Duplicate static host ids",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				hosts:
				- id: vc
				  url: https://vc1.example.com
				- id: vc
				  url: https://vc2.example.com
			`),
			wantError: `validate hosts: duplicate host id "vc"`,
		},
		{
			name: "Unknown credential source",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: password
			`),
			wantError: `validate credentials: unknown source "password", valid choices are keystore, certificate and refreshToken`,
		},
		{
			name: "Keystore without a path",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
			`),
			wantError: "validate credentials: keystore.path is required when source is keystore",
		},
		{
			name: "Certificate without a key",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: certificate
				  certificate:
				    certFile: /etc/safekeeping/tls.crt
			`),
			wantError: "validate credentials: certificate.certFile and certificate.keyFile are required when source is certificate",
		},
		{
			name: "Refresh token without any token",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				  tokenExchange:
				    tokenURL: https://login.example.com/oauth2/token
				credentials:
				  source: refreshToken
			`),
			wantError: "validate credentials: refreshToken.tokenFile or the SAFEKEEPING_REFRESH_TOKEN environment variable is required when source is refreshToken",
		},
		{
			name: "Refresh token without a token exchange",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: refreshToken
				  refreshToken:
				    tokenFile: /etc/safekeeping/refresh-token
			`),
			wantError: "validate credentials: tokenExchange.tokenURL is required when credentials.source is refreshToken",
		},
		{
			name: "Holder-of-key tokens with a refresh token",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				  tokenExchange:
				    tokenURL: https://login.example.com/oauth2/token
				credentials:
				  source: refreshToken
				  refreshToken:
				    tokenFile: /etc/safekeeping/refresh-token
				token:
				  holderOfKey: true
			`),
			wantError: "validate token: holderOfKey tokens require a keystore or certificate credential source",
		},
		{
			name: "Keep-alive interval as long as the lifetime",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				token:
				  lifetime: 20m
				keepAliveInterval: 20m
			`),
			wantError: "validate keepAliveInterval: keepAliveInterval must be shorter than token.lifetime",
		},
		{
			name: "Max wait shorter than the poll interval",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				operations:
				  pollInterval: 10s
				  maxWait: 5s
			`),
			wantError: "validate operations: maxWait 5s must not be shorter than pollInterval 10s",
		},
		{
			name: "Negative concurrency",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				connection:
				  maxConcurrentHosts: -1
			`),
			wantError: "validate connection: maxConcurrentHosts must not be negative",
		},
		{
			name: "Invalid minimum API version",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				connection:
				  minimumAPIVersion: eight
			`),
			wantErrorContains: `validate connection: invalid API version "eight"`,
		},
		{
			name: "Invalid log level",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				credentials:
				  source: keystore
				  keystore:
				    path: /etc/safekeeping/keystore.p12
				log:
				  level: loud
			`),
			wantError: "validate log: invalid log level, valid choices are the empty string, info, debug, trace and all",
		},
		{
			name: "Invalid log format",
			yaml: here.Doc(`
				---
				identityProvider:
				  host: sso.example.com
				log:
				  format: xml
			`),
			wantErrorContains: "decode yaml: error unmarshaling JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			config, err := FromPath(path)
			switch {
			case tt.wantError != "":
				require.EqualError(t, err, tt.wantError)
				require.Nil(t, config)
			case tt.wantErrorContains != "":
				require.ErrorContains(t, err, tt.wantErrorContains)
				require.Nil(t, config)
			default:
				require.NoError(t, err)
				require.Equal(t, tt.wantConfig, config)
			}
		})
	}
}

func TestFromPathMissingFile(t *testing.T) {
	_, err := FromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read file: ")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDerivedValues(t *testing.T) {
	config := &Config{
		IdentityProvider: IdentityProviderSpec{
			Host:              "sso.example.com",
			Port:              443,
			STSPath:           "/sts/STSService/vsphere.local",
			LookupServicePath: "/lookupservice/sdk",
			TokenExchange: &TokenExchangeSpec{
				TokenURL:     "https://login.example.com/oauth2/token",
				ExchangePath: "/rest/vcenter/tokenservice/token-exchange",
			},
		},
		Hosts: []HostSpec{{ID: "vc-1", URL: "https://vc1.example.com"}},
		Credentials: CredentialsSpec{
			Source:       federation.SourceRefreshToken,
			Keystore:     &KeystoreSpec{Path: "/ks.p12", Password: "pw"},
			RefreshToken: &RefreshTokenSpec{TokenFile: "/rt", Value: "v"},
		},
		Services: ServicesSpec{DiskLifecycle: ptr.To(false)},
	}

	require.Equal(t, "https://sso.example.com:443/sts/STSService/vsphere.local", config.STSURL())
	require.Equal(t, "https://sso.example.com:443/lookupservice/sdk", config.LookupServiceURL())
	require.Equal(t, "https://sso.example.com:443/rest/vcenter/tokenservice/token-exchange", config.ExchangeURL())
	require.Len(t, config.StaticHosts(), 1)
	require.Equal(t, "vc-1", config.StaticHosts()[0].ID)
	require.Equal(t, federation.CredentialSpec{
		Source:           federation.SourceRefreshToken,
		KeystorePath:     "/ks.p12",
		KeystorePassword: "pw",
		RefreshToken:     "v",
		RefreshTokenFile: "/rt",
	}, config.CredentialSpec())
	require.Equal(t, sets.New(endpoint.StoragePolicy, endpoint.Automation), config.EnabledServices())

	config.IdentityProvider.TokenExchange = nil
	config.Hosts = nil
	require.Empty(t, config.ExchangeURL())
	require.Nil(t, config.StaticHosts())
}
