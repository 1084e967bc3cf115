// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package cert loads the certificate and key material used to sign requests to the identity provider.
package cert

import "time"

// PEM is a PEM encoded certificate chain and its private key.
type PEM struct {
	CertPEM   []byte
	KeyPEM    []byte
	NotBefore time.Time
	NotAfter  time.Time
}
