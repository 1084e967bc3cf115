// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package certauthority implements a simple x509 certificate authority that issues host serving certificates
// and the signing certificates used to request tokens from the identity provider.
package certauthority

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"go.pinniped.dev/safekeeping/internal/cert"
)

// certBackdate is the amount of time before now that will be used to set a certificate's NotBefore field.
const certBackdate = 5 * time.Minute

// KeyType selects the algorithm of an issued leaf key.
type KeyType int

const (
	ECDSA KeyType = iota
	RSA
)

type env struct {
	// secure random number generators for various steps (usually crypto/rand.Reader, but broken out here for tests).
	serialRNG  io.Reader
	keygenRNG  io.Reader
	signingRNG io.Reader

	// clock tells the current time (usually time.Now(), but broken out here for tests).
	clock func() time.Time
}

// CA holds the state for a simple x509 certificate authority.
type CA struct {
	// caCertBytes is the DER-encoded certificate for the current CA.
	caCertBytes []byte

	// signer is the private key for the current CA.
	signer crypto.Signer

	env env
}

func secureEnv() env {
	return env{
		serialRNG:  rand.Reader,
		keygenRNG:  rand.Reader,
		signingRNG: rand.Reader,
		clock:      time.Now,
	}
}

// New generates a fresh certificate authority with the given Common Name and TTL.
func New(commonName string, ttl time.Duration) (*CA, error) {
	return newInternal(commonName, ttl, secureEnv())
}

func newInternal(commonName string, ttl time.Duration, env env) (*CA, error) {
	serialNumber, err := randomSerial(env.serialRNG)
	if err != nil {
		return nil, fmt.Errorf("could not generate CA serial: %w", err)
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), env.keygenRNG)
	if err != nil {
		return nil, fmt.Errorf("could not generate CA private key: %w", err)
	}

	now := env.clock()
	caTemplate := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-certBackdate),
		NotAfter:              now.Add(ttl),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	caCertBytes, err := x509.CreateCertificate(env.signingRNG, &caTemplate, &caTemplate, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("could not issue CA certificate: %w", err)
	}

	return &CA{caCertBytes: caCertBytes, signer: privateKey, env: env}, nil
}

// Bundle returns the current CA signing bundle in concatenated PEM format.
func (c *CA) Bundle() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.caCertBytes})
}

// Pool returns the current CA signing bundle as a *x509.CertPool.
func (c *CA) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(c.Bundle())
	return pool
}

// IssueServerCert issues a serving certificate.  The common name is what deployment classification inspects,
// while the dnsNames and ips are what TLS verification uses.
func (c *CA) IssueServerCert(commonName string, dnsNames []string, ips []net.IP, ttl time.Duration) (*tls.Certificate, error) {
	return c.issueCert(ECDSA, x509.ExtKeyUsageServerAuth, pkix.Name{CommonName: commonName}, dnsNames, ips, ttl)
}

// IssueSigningCert issues a certificate whose key signs token requests, i.e. a solution user certificate.
func (c *CA) IssueSigningCert(subject string, keyType KeyType, ttl time.Duration) (*tls.Certificate, error) {
	return c.issueCert(keyType, x509.ExtKeyUsageClientAuth, pkix.Name{CommonName: subject}, nil, nil, ttl)
}

// IssueSigningCertPEM is IssueSigningCert encoded as PEM.
func (c *CA) IssueSigningCertPEM(subject string, keyType KeyType, ttl time.Duration) (*cert.PEM, error) {
	return toPEM(c.IssueSigningCert(subject, keyType, ttl))
}

func (c *CA) issueCert(keyType KeyType, extKeyUsage x509.ExtKeyUsage, subject pkix.Name, dnsNames []string, ips []net.IP, ttl time.Duration) (*tls.Certificate, error) {
	serialNumber, err := randomSerial(c.env.serialRNG)
	if err != nil {
		return nil, fmt.Errorf("could not generate serial number for certificate: %w", err)
	}

	var (
		privateKey crypto.Signer
		keyUsage   = x509.KeyUsageDigitalSignature
	)
	switch keyType {
	case RSA:
		privateKey, err = rsa.GenerateKey(c.env.keygenRNG, 2048)
		keyUsage |= x509.KeyUsageKeyEncipherment
	default:
		privateKey, err = ecdsa.GenerateKey(elliptic.P256(), c.env.keygenRNG)
	}
	if err != nil {
		return nil, fmt.Errorf("could not generate private key: %w", err)
	}

	caCert, err := x509.ParseCertificate(c.caCertBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse CA certificate: %w", err)
	}

	now := c.env.clock()
	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               subject,
		NotBefore:             now.Add(-certBackdate),
		NotAfter:              now.Add(ttl),
		KeyUsage:              keyUsage,
		ExtKeyUsage:           []x509.ExtKeyUsage{extKeyUsage},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	certBytes, err := x509.CreateCertificate(c.env.signingRNG, &template, caCert, privateKey.Public(), c.signer)
	if err != nil {
		return nil, fmt.Errorf("could not sign certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certBytes},
		Leaf:        leaf,
		PrivateKey:  privateKey,
	}, nil
}

func toPEM(certificate *tls.Certificate, err error) (*cert.PEM, error) {
	if err != nil {
		return nil, err
	}

	certPEM, keyPEM, err := ToPEM(certificate)
	if err != nil {
		return nil, err
	}

	return &cert.PEM{
		CertPEM:   certPEM,
		KeyPEM:    keyPEM,
		NotBefore: certificate.Leaf.NotBefore,
		NotAfter:  certificate.Leaf.NotAfter,
	}, nil
}

// ToPEM encodes a tls.Certificate into a cert chain PEM and a PKCS8 private key PEM.
func ToPEM(cert *tls.Certificate) ([]byte, []byte, error) {
	certPEMBlocks := make([][]byte, 0, len(cert.Certificate))
	for _, c := range cert.Certificate {
		certPEMBlocks = append(certPEMBlocks, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c}))
	}
	certPEM := bytes.Join(certPEMBlocks, nil)

	privateKeyPKCS8, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key into PKCS8: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyPKCS8})

	return certPEM, keyPEM, nil
}

// randomSerial generates a random 128-bit serial number.
func randomSerial(rng io.Reader) (*big.Int, error) {
	return rand.Int(rng, new(big.Int).Lsh(big.NewInt(1), 128))
}
