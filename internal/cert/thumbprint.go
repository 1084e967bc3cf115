// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package cert

import (
	"crypto/sha1" //nolint:gosec // thumbprints are SHA-1 by definition, they are identifiers and not a security boundary
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// Thumbprint returns the SHA-1 of the DER certificate as upper case hex pairs joined by colons,
// e.g. 8F:2B:...:01, which is the format hosts expect when a transport pins a certificate.
func Thumbprint(c *x509.Certificate) string {
	if c == nil {
		return ""
	}

	sum := sha1.Sum(c.Raw) //nolint:gosec // see import
	pairs := make([]string, 0, len(sum))
	for _, b := range sum {
		pairs = append(pairs, strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return strings.Join(pairs, ":")
}
