//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package common

import "testing"

type testStringer struct{}

func (*testStringer) String() string { return "" }

func TestCommon_InterfaceIsNil(t *testing.T) {
	var nilStringer *testStringer
	var nilMap map[string]int

	for name, tc := range map[string]struct {
		in     interface{}
		expNil bool
	}{
		"untyped nil": {expNil: true},
		"typed nil pointer": {
			in:     nilStringer,
			expNil: true,
		},
		"nil map": {
			in:     nilMap,
			expNil: true,
		},
		"non-nil pointer": {
			in: &testStringer{},
		},
		"struct value": {
			in: struct{}{},
		},
		"int": {
			in: 42,
		},
	} {
		t.Run(name, func(t *testing.T) {
			if got := InterfaceIsNil(tc.in); got != tc.expNil {
				t.Fatalf("expected %t, got %t", tc.expNil, got)
			}
		})
	}
}

func TestCommon_FormatCount(t *testing.T) {
	for name, tc := range map[string]struct {
		n      int
		expStr string
	}{
		"zero": {0, "0 adapters"},
		"one":  {1, "1 adapter"},
		"many": {4, "4 adapters"},
	} {
		t.Run(name, func(t *testing.T) {
			if got := FormatCount("adapter", tc.n); got != tc.expStr {
				t.Fatalf("expected %q, got %q", tc.expStr, got)
			}
		})
	}
}
