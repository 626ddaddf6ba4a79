//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/dlopen"
)

const procMaps = "/proc/self/maps"

// readMappedLibPath attempts to resolve the given library name to an on-disk path.
// NB: The library must be loaded in order for it to be found!
func readMappedLibPath(input io.Reader, libName string) (string, error) {
	if libName == "" {
		return "", nil
	}

	libs := make(map[string]struct{})
	libRe := regexp.MustCompile(fmt.Sprintf(`\s([^\s]+/%s[\-\.\d]*\.so.*$)`, regexp.QuoteMeta(libName)))
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if matches := libRe.FindStringSubmatch(scanner.Text()); len(matches) > 1 {
			libs[matches[1]] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "reading library mappings")
	}

	if len(libs) == 0 {
		return "", errors.Errorf("unable to find path for %q", libName)
	} else if len(libs) > 1 {
		return "", errors.Errorf("multiple paths found for %q: %v", libName, libs)
	}

	var libPath string
	for lib := range libs {
		libPath = lib
	}
	return libPath, nil
}

func getLibPath(libName string) (string, error) {
	f, err := os.Open(procMaps)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", procMaps)
	}
	defer f.Close()

	return readMappedLibPath(f, libName)
}

// versionFromPath extracts the version from the suffix of a shared object
// path, e.g. libibverbs.so.1.14.50.0 or libcudart.so.12.2.140.
func versionFromPath(libPath string) (*Version, error) {
	base := filepath.Base(libPath)
	idx := strings.Index(base, ".so.")
	if idx < 0 {
		return nil, errors.Errorf("no version in %q", base)
	}
	suffix := base[idx+len(".so."):]
	if strings.Count(suffix, ".") < 2 {
		return nil, errors.Errorf("incomplete version in %q", base)
	}
	return NewVersion(suffix)
}

var libSonames = map[string]string{
	"ibverbs": "libibverbs.so.1",
	"cudart":  "libcudart.so",
}

// MinLibVersions holds the oldest supported version of each library.
var MinLibVersions = map[string]Version{
	"libibverbs": {Major: 1, Minor: 1},
	"libcudart":  {Major: 11},
}

// CheckLibVersion returns an error if ver is older than the oldest
// supported version of the named library.
func CheckLibVersion(libName string, ver Version) error {
	oldest, found := MinLibVersions[libName]
	if !found {
		return errors.Errorf("unsupported library: %q", libName)
	}
	if ver.LessThan(oldest) {
		return errors.Errorf("%s %s is older than the minimum supported version %s", libName, ver, oldest)
	}
	return nil
}

// GetLibraryInfo loads the named library, if needed, and resolves it into
// a version and path. The version is taken from the library file name.
func GetLibraryInfo(libName string) (*Version, string, error) {
	short := strings.TrimPrefix(strings.ToLower(libName), "lib")
	soname, found := libSonames[short]
	if !found {
		return nil, "", errors.Errorf("unsupported library: %q", libName)
	}
	fullName := "lib" + short

	libPath, _ := getLibPath(fullName)
	if libPath == "" {
		hdl, err := dlopen.GetHandle(soname)
		if err != nil {
			return nil, "", err
		}
		defer hdl.Close()

		if libPath, err = getLibPath(fullName); err != nil {
			return nil, "", err
		}
	}

	ver, err := versionFromPath(libPath)
	if err != nil {
		return nil, libPath, err
	}
	return ver, libPath, nil
}
