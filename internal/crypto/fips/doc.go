// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fips restricts every TLS connection to the identity provider and to hosts to FIPS-approved
// settings when the binary is built with the fips_strict tag and boringcrypto.
package fips
