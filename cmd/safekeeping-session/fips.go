// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build fips_strict

package main

import _ "go.pinniped.dev/safekeeping/internal/crypto/fips"
