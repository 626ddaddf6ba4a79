//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package build provides an importable repository of variables set at build time.
package build

var (
	// ConfigDir should be set via linker flag using the value of CONF_DIR.
	ConfigDir string = "./"
	// GDRVersion should be set via linker flag using the value of GDR_VERSION.
	GDRVersion string = "unset"
	// Revision is the VCS revision the binary was built from.
	Revision string
	// VCS is the version control system Revision belongs to.
	VCS string
	// ReleaseBuild is true for release builds, whose version string omits
	// the revision.
	ReleaseBuild bool
	// DirtyBuild is true if the working tree had local modifications.
	DirtyBuild bool

	// ProbeName defines a consistent name for the diagnostic tool.
	ProbeName = "gdr_probe"
	// EngineName defines a consistent name for the data channel engine.
	EngineName = "GDR data channel"

	// DefaultConfigFile is the name of the configuration file searched for
	// in the configuration directories.
	DefaultConfigFile = "gdr.yml"
)
