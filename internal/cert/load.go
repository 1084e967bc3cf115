// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"

	"go.pinniped.dev/safekeeping/internal/constable"
)

const (
	ErrUnsupportedKey = constable.Error("private key must be an RSA or ECDSA key")
	ErrEmptyPath      = constable.Error("path must not be empty")
)

// KeyMaterial is a parsed leaf certificate and the private key that belongs to it.
type KeyMaterial struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	PrivateKey  crypto.Signer
}

// LoadPEMPair reads a PEM certificate chain and a PEM private key from disk.
func LoadPEMPair(certFile, keyFile string) (*KeyMaterial, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.Wrap(ErrEmptyPath, "could not load certificate key pair")
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read certificate file %s", certFile)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read key file %s", keyFile)
	}

	return ParsePEMPair(certPEM, keyPEM)
}

// ParsePEMPair parses an in-memory PEM certificate chain and private key.
func ParsePEMPair(certPEM, keyPEM []byte) (*KeyMaterial, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse certificate key pair")
	}

	chain := make([]*x509.Certificate, 0, len(pair.Certificate))
	for _, der := range pair.Certificate {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errors.Wrap(err, "could not parse certificate")
		}
		chain = append(chain, c)
	}

	return newKeyMaterial(pair.PrivateKey, chain)
}

// LoadKeystore reads a PKCS#12 keystore holding a single private key and its certificate.
func LoadKeystore(path, password string) (*KeyMaterial, error) {
	if path == "" {
		return nil, errors.Wrap(ErrEmptyPath, "could not load keystore")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read keystore %s", path)
	}

	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode keystore %s", path)
	}

	return newKeyMaterial(key, []*x509.Certificate{leaf})
}

func newKeyMaterial(key any, chain []*x509.Certificate) (*KeyMaterial, error) {
	if len(chain) == 0 {
		return nil, errors.New("no certificate found")
	}

	var signer crypto.Signer
	switch k := key.(type) {
	case *rsa.PrivateKey:
		signer = k
	case *ecdsa.PrivateKey:
		signer = k
	default:
		return nil, errors.WithStack(ErrUnsupportedKey)
	}

	return &KeyMaterial{
		Certificate: chain[0],
		Chain:       chain,
		PrivateKey:  signer,
	}, nil
}
