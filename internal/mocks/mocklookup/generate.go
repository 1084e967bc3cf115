// Copyright 2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package mocklookup

//go:generate go run -v go.uber.org/mock/mockgen  -destination=mocklookup.go -package=mocklookup -copyright_file=../../../hack/header.txt go.pinniped.dev/safekeeping/internal/directory Lookup
