//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import "runtime/debug"

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	setVCSInfo(info.Settings)
}

// setVCSInfo fills in the revision variables from the settings the Go
// toolchain embeds, unless they were set by the linker.
func setVCSInfo(settings []debug.BuildSetting) {
	if Revision != "" {
		return
	}

	for _, s := range settings {
		switch s.Key {
		case "vcs":
			VCS = s.Value
		case "vcs.revision":
			Revision = s.Value
		case "vcs.modified":
			DirtyBuild = s.Value == "true"
		}
	}
}
