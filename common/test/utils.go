//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package test provides helpers shared by the unit tests of this module.
package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/logging"
)

// AssertTrue asserts b is true
func AssertTrue(t *testing.T, b bool, message string) {
	t.Helper()

	if !b {
		t.Fatal(message)
	}
}

// AssertFalse asserts b is false
func AssertFalse(t *testing.T, b bool, message string) {
	t.Helper()

	if b {
		t.Fatal(message)
	}
}

// AssertEqual asserts b is equal to a
//
// Whilst suitable in most situations, reflect.DeepEqual() may not be
// suitable for nontrivial struct element comparisons, CmpAny should
// then be used.
func AssertEqual(t *testing.T, a, b interface{}, message string) {
	t.Helper()

	if reflect.DeepEqual(a, b) {
		return
	}
	if len(message) > 0 {
		message += ", "
	}
	t.Fatalf("%s%#v != %#v", message, a, b)
}

// CmpAny compares two values and fails the test if they are not equal.
func CmpAny(t *testing.T, desc string, want, got interface{}, cmpOpts ...cmp.Option) {
	t.Helper()

	if diff := cmp.Diff(want, got, cmpOpts...); diff != "" {
		t.Fatalf("unexpected %s (-want, +got):\n%s\n", desc, diff)
	}
}

// CmpErrBool compares two booleans and returns an error if they do not match.
func CmpErrBool(want, got error) bool {
	return (want == nil) == (got == nil)
}

// CmpErr compares two errors for equality or at least close similarity in their messages.
func CmpErr(t *testing.T, want, got error) {
	t.Helper()

	if !CmpErrBool(want, got) {
		t.Fatalf("unexpected error\n(wanted: %v, got: %v)", want, got)
	}
	if want != nil && got != nil && !strings.Contains(got.Error(), want.Error()) &&
		errors.Cause(want) != errors.Cause(got) {
		t.Fatalf("unexpected error\n(wanted: %v, got: %v)", want, got)
	}
}

// ShowBufferOnFailure displays captured output on test failure. Should be
// called via defer.
func ShowBufferOnFailure(t *testing.T, buf fmt.Stringer) {
	t.Helper()

	if t.Failed() {
		fmt.Printf("captured log output:\n%s", buf.String())
	}
}

// MustLogContext returns a context carrying the supplied logger.
func MustLogContext(t *testing.T, log logging.Logger) context.Context {
	t.Helper()

	ctx, err := logging.ToContext(Context(t), log)
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

// Context returns a context that is canceled when the test completes.
func Context(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// CreateTestDir creates a temporary directory removed at test cleanup.
func CreateTestDir(t *testing.T) string {
	t.Helper()

	return t.TempDir()
}

// CreateTestFile creates a file with the given contents.
func CreateTestFile(t *testing.T, dir, content string) string {
	t.Helper()

	f, err := os.CreateTemp(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return filepath.Clean(f.Name())
}

// WaitFor polls check until it returns true or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, desc string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !check() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, desc)
		}
		time.Sleep(time.Millisecond)
	}
}
