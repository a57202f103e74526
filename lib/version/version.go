// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package version records the build version stamped in via ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is the release version, overridden at link time with
//
//	-ldflags "-X github.com/nyanstream/nyanstream/lib/version.Version=v1.2.3"
var Version = "dev"

// String returns the effective version: the stamped release if set,
// otherwise whatever the module build info carries.
func String() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// Print writes the binary name and version to stdout.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, String())
}
