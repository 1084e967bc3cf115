// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"crypto"
	"crypto/x509"
	"os"
	"strings"

	"github.com/pkg/errors"

	"go.pinniped.dev/safekeeping/internal/cert"
	"go.pinniped.dev/safekeeping/internal/connerr"
	"go.pinniped.dev/safekeeping/internal/constable"
)

// CredentialSource selects where credential material comes from.
type CredentialSource string

const (
	SourceKeystore     CredentialSource = "keystore"
	SourceCertificate  CredentialSource = "certificate"
	SourceRefreshToken CredentialSource = "refreshToken"

	ErrMissingCredentials = constable.Error("credential material is missing")
)

// CredentialMaterial is the key material a Provider uses to obtain tokens.
// It is implemented only by *KeyPair and *RefreshToken.
type CredentialMaterial interface {
	Source() CredentialSource
	isCredentialMaterial()
}

// KeyPair is a certificate and its private key, loaded from a keystore or a PEM pair.
type KeyPair struct {
	source      CredentialSource
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	PrivateKey  crypto.Signer
}

// NewKeyPair wraps already loaded key material.
func NewKeyPair(source CredentialSource, m *cert.KeyMaterial) *KeyPair {
	return &KeyPair{source: source, Certificate: m.Certificate, Chain: m.Chain, PrivateKey: m.PrivateKey}
}

func (k *KeyPair) Source() CredentialSource { return k.source }
func (*KeyPair) isCredentialMaterial()      {}

// RefreshToken is an externally issued OAuth2 refresh token.
type RefreshToken struct {
	Value string
}

func (*RefreshToken) Source() CredentialSource { return SourceRefreshToken }
func (*RefreshToken) isCredentialMaterial()    {}

// CredentialSpec names credential material on disk.
type CredentialSpec struct {
	Source CredentialSource

	KeystorePath     string
	KeystorePassword string

	CertFile string
	KeyFile  string

	// RefreshToken takes precedence over RefreshTokenFile.
	RefreshToken     string
	RefreshTokenFile string
}

// LoadCredentials reads the material selected by spec.Source.  An unset source, or a source whose material
// turns out to be empty, is an AuthenticationError because no identity provider would accept it.
func LoadCredentials(spec CredentialSpec) (CredentialMaterial, error) {
	const op = "load credentials"

	switch spec.Source {
	case SourceKeystore:
		m, err := cert.LoadKeystore(spec.KeystorePath, spec.KeystorePassword)
		if err != nil {
			return nil, err
		}
		return NewKeyPair(SourceKeystore, m), nil

	case SourceCertificate:
		m, err := cert.LoadPEMPair(spec.CertFile, spec.KeyFile)
		if err != nil {
			return nil, err
		}
		return NewKeyPair(SourceCertificate, m), nil

	case SourceRefreshToken:
		value := spec.RefreshToken
		if value == "" && spec.RefreshTokenFile != "" {
			raw, err := os.ReadFile(spec.RefreshTokenFile)
			if err != nil {
				return nil, errors.Wrapf(err, "could not read refresh token file %s", spec.RefreshTokenFile)
			}
			value = string(raw)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, connerr.Authentication(op, ErrMissingCredentials)
		}
		return &RefreshToken{Value: value}, nil

	case "":
		return nil, connerr.Authentication(op, ErrMissingCredentials)

	default:
		return nil, errors.Errorf("unknown credential source %q", spec.Source)
	}
}
