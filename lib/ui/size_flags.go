//
// (C) Copyright 2022-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package ui provides command-line flag types.
package ui

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/atm"
)

// ByteSizeFlag parses a human readable byte count such as "64KiB" or
// "1MB" from the command line.
type ByteSizeFlag struct {
	set   atm.Bool
	Bytes uint64
}

// IsSet reports whether a value, default included, has been parsed.
func (sf ByteSizeFlag) IsSet() bool {
	return sf.set.IsTrue()
}

func (sf ByteSizeFlag) String() string {
	return humanize.IBytes(sf.Bytes)
}

// UnmarshalFlag implements flags.Unmarshaler. On failure the flag is left
// unchanged.
func (sf *ByteSizeFlag) UnmarshalFlag(value string) error {
	if value == "" {
		return errors.New("no size specified")
	}

	n, err := humanize.ParseBytes(value)
	if err != nil {
		return errors.Errorf("invalid size %q", value)
	}
	sf.Bytes = n
	sf.set.SetTrue()

	return nil
}
