//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package common holds small helpers shared across packages.
package common

import (
	"fmt"
	"reflect"
)

// InterfaceIsNil returns true if the interface itself or its underlying value
// is nil.
func InterfaceIsNil(i interface{}) bool {
	if i == nil {
		return true
	}

	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// Pluralise appends "s" to the input string if the count is not 1.
func Pluralise(s string, n int) string {
	if n == 1 {
		return s
	}
	return s + "s"
}

// FormatCount returns a string like "3 adapters".
func FormatCount(s string, n int) string {
	return fmt.Sprintf("%d %s", n, Pluralise(s, n))
}
