//
// (C) Copyright 2023-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import "fmt"

const shortRevLen = 7

// revString appends the VCS revision and a dirty marker to the version of
// a development build. Git revisions are shortened and prefixed with "g".
func revString(version string) string {
	if ReleaseBuild || Revision == "" {
		return version
	}

	rev := Revision
	if VCS == "git" {
		if len(rev) > shortRevLen {
			rev = rev[:shortRevLen]
		}
		rev = "g" + rev
	}
	version += "-" + rev
	if DirtyBuild {
		version += "-dirty"
	}
	return version
}

// String returns a string containing the name, version, and for non-release builds,
// the revision of the binary.
func String(name string) string {
	return fmt.Sprintf("%s version %s", name, revString(GDRVersion))
}
