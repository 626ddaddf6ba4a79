//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package atm

import "sync/atomic"

// String is a string that may be read and replaced from any goroutine. The
// zero value holds "".
type String struct {
	v atomic.Value
}

// Store replaces the held string.
func (s *String) Store(in string) {
	s.v.Store(in)
}

// Load returns the held string.
func (s *String) Load() string {
	if v, ok := s.v.Load().(string); ok {
		return v
	}
	return ""
}

func (s *String) String() string {
	return s.Load()
}
