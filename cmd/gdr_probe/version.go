//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"fmt"

	"github.com/daos-stack/gdr/build"
)

type libInfoFn func(libName string) (*build.Version, string, error)

type libraryInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Supported bool   `json:"supported"`
	Error     string `json:"error,omitempty"`
}

type versionInfo struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	Libraries []libraryInfo `json:"libraries"`
}

type versionCmd struct {
	jsonOutputCmd
	outputCmd

	libInfo libInfoFn
}

var versionedLibs = []string{"libibverbs", "libcudart"}

func (cmd *versionCmd) Execute(_ []string) error {
	getInfo := cmd.libInfo
	if getInfo == nil {
		getInfo = build.GetLibraryInfo
	}

	info := versionInfo{
		Name:    build.ProbeName,
		Version: build.GDRVersion,
	}
	for _, name := range versionedLibs {
		li := libraryInfo{Name: name}
		ver, libPath, err := getInfo(name)
		li.Path = libPath
		if ver != nil {
			li.Version = ver.String()
			if err == nil {
				err = build.CheckLibVersion(name, *ver)
			}
		}
		if err != nil {
			li.Error = err.Error()
		}
		li.Supported = ver != nil && err == nil
		info.Libraries = append(info.Libraries, li)
	}

	if cmd.jsonOutputEnabled() {
		return cmd.outputJSON(cmd.out, info)
	}

	fmt.Fprintln(cmd.out, build.String(build.ProbeName))
	for _, li := range info.Libraries {
		switch {
		case li.Supported:
			fmt.Fprintf(cmd.out, "  %s %s (%s)\n", li.Name, li.Version, li.Path)
		case li.Version != "":
			fmt.Fprintf(cmd.out, "  %s %s (%s): %s\n", li.Name, li.Version, li.Path, li.Error)
		case li.Path != "":
			fmt.Fprintf(cmd.out, "  %s unknown version (%s)\n", li.Name, li.Path)
		default:
			fmt.Fprintf(cmd.out, "  %s not available: %s\n", li.Name, li.Error)
		}
	}
	return nil
}
