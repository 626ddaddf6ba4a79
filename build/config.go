//
// (C) Copyright 2025 Hewlett Packard Enterprise Development LP
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultConfigDir is always searched after ConfigDir.
const DefaultConfigDir = "/etc/gdr"

// ErrDefaultConfigNotFound is returned when none of the configuration
// directories holds the requested file. Errors has one entry per directory.
type ErrDefaultConfigNotFound struct {
	Filename string
	Dirs     []string
	Errors   []error
}

func (e *ErrDefaultConfigNotFound) Error() string {
	return fmt.Sprintf("config file %q not found in default locations (%s)",
		e.Filename, strings.Join(e.Dirs, ", "))
}

// IsDefaultConfigNotFound returns true if err, or an error it wraps, is an
// *ErrDefaultConfigNotFound.
func IsDefaultConfigNotFound(err error) bool {
	var notFound *ErrDefaultConfigNotFound
	return errors.As(err, &notFound)
}

// ConfigDirs is the ordered list of directories searched for configuration files.
func ConfigDirs() []string {
	if filepath.Clean(ConfigDir) == DefaultConfigDir {
		return []string{DefaultConfigDir}
	}
	return []string{ConfigDir, DefaultConfigDir}
}

// FindConfigFilePath returns the path of the first file named filename in
// the configuration directories.
func FindConfigFilePath(filename string) (string, error) {
	if filepath.Base(filename) != filename {
		return "", errors.Errorf("%q already specifies a path", filename)
	}

	notFound := &ErrDefaultConfigNotFound{
		Filename: filename,
		Dirs:     ConfigDirs(),
	}
	for _, dir := range notFound.Dirs {
		cfgPath := filepath.Join(dir, filename)
		_, err := os.Stat(cfgPath)
		if err == nil {
			return cfgPath, nil
		}
		notFound.Errors = append(notFound.Errors, err)
	}

	return "", notFound
}
