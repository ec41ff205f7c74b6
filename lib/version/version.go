// Copyright 2026 The Hivedesk Authors
// SPDX-License-Identifier: Apache-2.0

// Package version identifies this SDK build. The string is sent to the
// event service as the ClientVersion connection parameter so the
// backend can correlate protocol behavior with client releases.
package version

import "runtime/debug"

// SDK is the semantic version of this client library. Bumped on
// release; the development build is suffixed below when module build
// info is available.
const SDK = "0.4.0"

// Info returns the full version string, including VCS revision when
// the binary was built from a module checkout.
func Info() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return SDK
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
			return SDK + "+" + setting.Value[:8]
		}
	}
	return SDK
}
