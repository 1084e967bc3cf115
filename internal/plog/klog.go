// Copyright 2020-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package plog

import "github.com/spf13/pflag"

// RemoveKlogGlobalFlags hides the flags that get unconditionally added to the given flag set by importing klog.
func RemoveKlogGlobalFlags(flags *pflag.FlagSet) {
	// if this function starts to panic, it likely means that klog stopped mucking with global flags
	const globalLogFlushFlag = "log-flush-frequency"
	if flags.Lookup(globalLogFlushFlag) == nil {
		return
	}
	if err := flags.MarkHidden(globalLogFlushFlag); err != nil {
		panic(err)
	}
	if err := flags.MarkDeprecated(globalLogFlushFlag, "unsupported"); err != nil {
		panic(err)
	}
	if flags.Changed(globalLogFlushFlag) {
		panic("unsupported global klog flag set")
	}
}
