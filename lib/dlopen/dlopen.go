//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package dlopen loads shared libraries at runtime so that binaries build
// and run on hosts without the RDMA or CUDA user-space stacks.
package dlopen

// #cgo LDFLAGS: -ldl
// #include <stdlib.h>
// #include <dlfcn.h>
import "C"
import (
	"unsafe"

	"github.com/pkg/errors"
)

// ErrSoNotFound is the cause of the error returned by GetHandle when no
// candidate could be opened.
var ErrSoNotFound = errors.New("unable to open a handle to the library")

// LibHandle is an open shared library. Close it when its symbols are no
// longer in use.
type LibHandle struct {
	handle  unsafe.Pointer
	Libname string
}

// lastError returns and clears the pending dlerror message, if any.
func lastError() error {
	if msg := C.dlerror(); msg != nil {
		return errors.New(C.GoString(msg))
	}
	return nil
}

// GetHandle opens the first of sonames that the dynamic linker can find.
// Symbols are bound lazily.
func GetHandle(sonames ...string) (*LibHandle, error) {
	var tried []string
	for _, name := range sonames {
		cName := C.CString(name)
		h := C.dlopen(cName, C.RTLD_LAZY)
		C.free(unsafe.Pointer(cName))

		if h != nil {
			return &LibHandle{handle: h, Libname: name}, nil
		}
		tried = append(tried, name)
	}
	lastError()

	return nil, errors.Wrapf(ErrSoNotFound, "tried %v", tried)
}

func (l *LibHandle) symbol(name string) (unsafe.Pointer, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	lastError()
	ptr := C.dlsym(l.handle, cName)
	if err := lastError(); ptr == nil && err != nil {
		return nil, errors.Wrapf(err, "resolve %q", name)
	}
	return ptr, nil
}

// Symbols resolves every named symbol, failing on the first one that
// cannot be found.
func (l *LibHandle) Symbols(names ...string) (map[string]unsafe.Pointer, error) {
	syms := make(map[string]unsafe.Pointer, len(names))
	for _, name := range names {
		ptr, err := l.symbol(name)
		if err != nil {
			return nil, errors.Wrap(err, l.Libname)
		}
		syms[name] = ptr
	}
	return syms, nil
}

// Close releases the handle.
func (l *LibHandle) Close() error {
	lastError()
	C.dlclose(l.handle)
	if err := lastError(); err != nil {
		return errors.Wrapf(err, "close %s", l.Libname)
	}
	return nil
}
