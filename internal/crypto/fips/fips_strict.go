// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build fips_strict

package fips

import (
	_ "crypto/tls/fipsonly" // restricts all TLS configuration to FIPS-approved settings.
)
