//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//
//go:build !ibverbs
// +build !ibverbs

package verbs

import "github.com/pkg/errors"

// Load reports the verbs library as unavailable; binaries must be built
// with the ibverbs tag to use real adapters.
func Load() (Lib, error) {
	return nil, errors.Wrap(ErrUnavailable, "built without ibverbs support")
}
