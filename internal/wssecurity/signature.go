// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package wssecurity

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"math/big"

	"go.pinniped.dev/safekeeping/internal/constable"
)

const ErrUnsupportedKey = constable.Error("signing key must be RSA or ECDSA")

// Signer is a private key together with the certificate that vouches for it.
type Signer interface {
	crypto.Signer
	Certificate() *x509.Certificate
}

type keySigner struct {
	crypto.Signer
	cert *x509.Certificate
}

func (k *keySigner) Certificate() *x509.Certificate { return k.cert }

// NewSigner pairs a key with its certificate.
func NewSigner(cert *x509.Certificate, key crypto.Signer) Signer {
	return &keySigner{Signer: key, cert: cert}
}

// Reference is one signed element: its fragment URI and its exclusive canonical bytes.
type Reference struct {
	URI       string
	Canonical []byte
}

// Sign produces a ds:Signature over refs, with keyInfo describing how the verifier finds the public key.
func Sign(signer Signer, keyInfo []byte, refs ...Reference) ([]byte, error) {
	method, err := signatureMethod(signer.Public())
	if err != nil {
		return nil, err
	}

	signedInfo := SignedInfo(method, refs...)
	digest := sha256.Sum256(signedInfo)

	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("could not sign request: %w", err)
	}

	if method == AlgorithmECDSA256 {
		// XML signatures carry the raw r||s pair instead of the ASN.1 structure
		if sig, err = ecdsaRaw(sig, signer.Public().(*ecdsa.PublicKey)); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<ds:Signature xmlns:ds="%s">`, NamespaceDS)
	buf.Write(signedInfo)
	fmt.Fprintf(&buf, `<ds:SignatureValue>%s</ds:SignatureValue>`, base64.StdEncoding.EncodeToString(sig))
	buf.Write(keyInfo)
	buf.WriteString(`</ds:Signature>`)
	return buf.Bytes(), nil
}

// SignedInfo is the canonical ds:SignedInfo element that gets signed.
func SignedInfo(method string, refs ...Reference) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<ds:SignedInfo xmlns:ds="%s">`, NamespaceDS)
	fmt.Fprintf(&buf, `<ds:CanonicalizationMethod Algorithm="%s"></ds:CanonicalizationMethod>`, AlgorithmExcC14N)
	fmt.Fprintf(&buf, `<ds:SignatureMethod Algorithm="%s"></ds:SignatureMethod>`, method)
	for _, ref := range refs {
		digest := sha256.Sum256(ref.Canonical)
		fmt.Fprintf(&buf, `<ds:Reference URI="%s">`, ref.URI)
		fmt.Fprintf(&buf, `<ds:Transforms><ds:Transform Algorithm="%s"></ds:Transform></ds:Transforms>`, AlgorithmExcC14N)
		fmt.Fprintf(&buf, `<ds:DigestMethod Algorithm="%s"></ds:DigestMethod>`, AlgorithmSHA256)
		fmt.Fprintf(&buf, `<ds:DigestValue>%s</ds:DigestValue>`, base64.StdEncoding.EncodeToString(digest[:]))
		buf.WriteString(`</ds:Reference>`)
	}
	buf.WriteString(`</ds:SignedInfo>`)
	return buf.Bytes()
}

// VerifySignedInfo checks a signature value produced by Sign against the public key.
func VerifySignedInfo(pub crypto.PublicKey, signedInfo, signature []byte) error {
	digest := sha256.Sum256(signedInfo)

	switch k := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], signature)
	case *ecdsa.PublicKey:
		size := (k.Curve.Params().BitSize + 7) / 8
		if len(signature) != 2*size {
			return fmt.Errorf("ecdsa signature has length %d, want %d", len(signature), 2*size)
		}
		r := new(big.Int).SetBytes(signature[:size])
		s := new(big.Int).SetBytes(signature[size:])
		if !ecdsa.Verify(k, digest[:], r, s) {
			return constable.Error("ecdsa signature verification failed")
		}
		return nil
	default:
		return ErrUnsupportedKey
	}
}

func signatureMethod(pub crypto.PublicKey) (string, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return AlgorithmRSA256, nil
	case *ecdsa.PublicKey:
		return AlgorithmECDSA256, nil
	default:
		return "", ErrUnsupportedKey
	}
}

func ecdsaRaw(der []byte, pub *ecdsa.PublicKey) ([]byte, error) {
	var parsed struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse ecdsa signature: %w", err)
	}

	size := (pub.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	parsed.R.FillBytes(out[:size])
	parsed.S.FillBytes(out[size:])
	return out, nil
}
