//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//
//go:build !cuda
// +build !cuda

package cuda

import "github.com/pkg/errors"

// Load returns ErrUnavailable in builds without CUDA support.
func Load() (Lib, error) {
	return nil, errors.Wrap(ErrUnavailable, "built without CUDA support")
}
