//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/common/test"
)

func TestBuild_FindConfigFilePath(t *testing.T) {
	dir := test.CreateTestDir(t)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("num_sends: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}

	oldDir := ConfigDir
	defer func() { ConfigDir = oldDir }()
	ConfigDir = dir

	for name, tc := range map[string]struct {
		filename string
		expPath  string
		expErr   error
	}{
		"found": {
			filename: DefaultConfigFile,
			expPath:  filepath.Join(dir, DefaultConfigFile),
		},
		"absolute path": {
			filename: "/etc/gdr/gdr.yml",
			expErr:   errors.New("already specifies a path"),
		},
		"relative path": {
			filename: "conf/gdr.yml",
			expErr:   errors.New("already specifies a path"),
		},
		"missing": {
			filename: "missing.yml",
			expErr:   errors.New("config file not found"),
		},
	} {
		t.Run(name, func(t *testing.T) {
			gotPath, gotErr := FindConfigFilePath(tc.filename)
			test.CmpErr(t, tc.expErr, gotErr)
			if tc.expErr != nil {
				test.AssertEqual(t, tc.filename == "missing.yml", IsDefaultConfigNotFound(gotErr),
					"not found error type")
				return
			}
			test.AssertEqual(t, tc.expPath, gotPath, "config path")
		})
	}

	test.AssertEqual(t, []string{dir, DefaultConfigDir}, ConfigDirs(), "search dirs")

	ConfigDir = DefaultConfigDir + "/"
	test.AssertEqual(t, []string{DefaultConfigDir}, ConfigDirs(), "search dirs")
}

func TestBuild_IsDefaultConfigNotFound(t *testing.T) {
	notFound := &ErrDefaultConfigNotFound{Filename: "gdr.yml", Dirs: []string{"./", DefaultConfigDir}}

	test.AssertTrue(t, IsDefaultConfigNotFound(notFound), "direct")
	test.AssertTrue(t, IsDefaultConfigNotFound(errors.Wrap(notFound, "loading")), "wrapped")
	test.AssertFalse(t, IsDefaultConfigNotFound(errors.New("other")), "other error")
	test.AssertEqual(t, `config file "gdr.yml" not found in default locations (./, /etc/gdr)`,
		notFound.Error(), "message")
}
