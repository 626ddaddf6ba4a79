//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package atm provides a collection of thread-safe types.
package atm

import "sync/atomic"

// Bool is a flag that may be read and set from any goroutine. The zero
// value is false.
type Bool uint32

// NewBool returns a Bool holding in.
func NewBool(in bool) Bool {
	if in {
		return 1
	}
	return 0
}

// SetTrue sets the flag.
func (b *Bool) SetTrue() {
	atomic.StoreUint32((*uint32)(b), 1)
}

// SetTrueCond sets the flag and reports whether this call changed it, so
// that exactly one of several concurrent callers wins.
func (b *Bool) SetTrueCond() bool {
	return atomic.CompareAndSwapUint32((*uint32)(b), 0, 1)
}

// IsTrue returns true if the flag is set.
func (b *Bool) IsTrue() bool {
	return atomic.LoadUint32((*uint32)(b)) == 1
}
