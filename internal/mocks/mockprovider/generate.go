// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package mockprovider

//go:generate go run -v go.uber.org/mock/mockgen  -destination=mockprovider.go -package=mockprovider -copyright_file=../../../hack/header.txt go.pinniped.dev/safekeeping/internal/federation Provider
