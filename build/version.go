//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package build

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version represents a semantic version.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// NewVersion parses a string like "1.2.3" or "v1.2.3". Anything after
// the patch number (e.g. "-rc1" or ".0") is ignored.
func NewVersion(in string) (*Version, error) {
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(in), "v"), ".", 3)
	if len(parts) < 3 {
		return nil, errors.Errorf("invalid version %q", in)
	}
	patch := parts[2]
	if end := strings.IndexFunc(patch, func(r rune) bool { return r < '0' || r > '9' }); end >= 0 {
		patch = patch[:end]
	}

	var v Version
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return nil, errors.Errorf("invalid major version %q", in)
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return nil, errors.Errorf("invalid minor version %q", in)
	}
	if v.Patch, err = strconv.Atoi(patch); err != nil {
		return nil, errors.Errorf("invalid patch version %q", in)
	}
	return &v, nil
}

// MustNewVersion is like NewVersion but panics on error.
func MustNewVersion(in string) Version {
	v, err := NewVersion(in)
	if err != nil {
		panic(err)
	}
	return *v
}

// Equals tests whether the versions are equal.
func (v Version) Equals(other Version) bool {
	return v == other
}

// GreaterThan tests whether v is newer than other.
func (v Version) GreaterThan(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor > other.Minor
	}
	return v.Patch > other.Patch
}

// LessThan tests whether v is older than other.
func (v Version) LessThan(other Version) bool {
	return !v.Equals(other) && !v.GreaterThan(other)
}
