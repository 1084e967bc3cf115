// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package here turns indented raw string literals into documents, mostly for YAML test fixtures.
package here

import (
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
)

const (
	tab      = "\t"
	twoSpace = "  "
)

// Doc removes the common indentation of s and replaces any remaining tabs with two spaces,
// which keeps nested YAML readable when it is written inside indented Go code.
func Doc(s string) string {
	return strings.ReplaceAll(heredoc.Doc(s), tab, twoSpace)
}

// Docf is Doc with fmt.Sprintf style arguments.
func Docf(raw string, args ...any) string {
	return strings.ReplaceAll(heredoc.Docf(raw, args...), tab, twoSpace)
}
