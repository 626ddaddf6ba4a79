//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//
//go:build cuda
// +build cuda

package cuda

/*
#include <assert.h>
#include <stdlib.h>

typedef int gdr_cuda_err_t;

#define GDR_CUDA_SUCCESS		0
#define GDR_CUDA_ERROR_NOT_READY	600
#define GDR_CUDA_EVENT_DISABLE_TIMING	0x02

gdr_cuda_err_t
call_cudaGetDeviceCount(void *fn, int *count)
{
	gdr_cuda_err_t (*get_count)(int *);

	assert(fn != NULL);
	get_count = fn;

	return get_count(count);
}

gdr_cuda_err_t
call_cudaDeviceGetPCIBusId(void *fn, char *bus_id, int len, int device)
{
	gdr_cuda_err_t (*get_bus_id)(char *, int, int);

	assert(fn != NULL);
	get_bus_id = fn;

	return get_bus_id(bus_id, len, device);
}

gdr_cuda_err_t
call_cudaSetDevice(void *fn, int device)
{
	gdr_cuda_err_t (*set_device)(int);

	assert(fn != NULL);
	set_device = fn;

	return set_device(device);
}

gdr_cuda_err_t
call_cudaEventCreateWithFlags(void *fn, void **event)
{
	gdr_cuda_err_t (*create)(void **, unsigned int);

	assert(fn != NULL);
	create = fn;

	return create(event, GDR_CUDA_EVENT_DISABLE_TIMING);
}

gdr_cuda_err_t
call_cudaEventRecord(void *fn, void *event, uintptr_t stream)
{
	gdr_cuda_err_t (*record)(void *, void *);

	assert(fn != NULL);
	record = fn;

	return record(event, (void *)stream);
}

gdr_cuda_err_t
call_cudaEventQuery(void *fn, void *event)
{
	gdr_cuda_err_t (*query)(void *);

	assert(fn != NULL);
	query = fn;

	return query(event);
}

gdr_cuda_err_t
call_cudaEventDestroy(void *fn, void *event)
{
	gdr_cuda_err_t (*destroy)(void *);

	assert(fn != NULL);
	destroy = fn;

	return destroy(event);
}

const char *
call_cudaGetErrorString(void *fn, gdr_cuda_err_t err)
{
	const char *(*get_str)(gdr_cuda_err_t);

	assert(fn != NULL);
	get_str = fn;

	return get_str(err);
}
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/dlopen"
)

const busIDLen = 32

var cudartSymbols = []string{
	"cudaGetDeviceCount",
	"cudaDeviceGetPCIBusId",
	"cudaSetDevice",
	"cudaEventCreateWithFlags",
	"cudaEventRecord",
	"cudaEventQuery",
	"cudaEventDestroy",
	"cudaGetErrorString",
}

// Load dynamically loads the CUDA runtime.
func Load() (Lib, error) {
	hdl, err := dlopen.GetHandle("libcudart.so", "libcudart.so.12", "libcudart.so.11.0")
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	syms, err := hdl.Symbols(cudartSymbols...)
	if err != nil {
		hdl.Close()
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	return &cudartLib{hdl: hdl, syms: syms}, nil
}

type cudartLib struct {
	hdl  *dlopen.LibHandle
	syms map[string]unsafe.Pointer
}

func (l *cudartLib) err(op string, rc C.gdr_cuda_err_t) error {
	if rc == C.GDR_CUDA_SUCCESS {
		return nil
	}
	msg := C.GoString(C.call_cudaGetErrorString(l.syms["cudaGetErrorString"], rc))
	return errors.Errorf("%s: %s (%d)", op, msg, int(rc))
}

func (l *cudartLib) DeviceCount() (int, error) {
	var count C.int
	if err := l.err("cudaGetDeviceCount", C.call_cudaGetDeviceCount(l.syms["cudaGetDeviceCount"], &count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (l *cudartLib) PCIBusID(device int) (string, error) {
	buf := (*C.char)(C.calloc(busIDLen, 1))
	defer C.free(unsafe.Pointer(buf))

	rc := C.call_cudaDeviceGetPCIBusId(l.syms["cudaDeviceGetPCIBusId"], buf, busIDLen, C.int(device))
	if err := l.err("cudaDeviceGetPCIBusId", rc); err != nil {
		return "", err
	}
	return C.GoString(buf), nil
}

func (l *cudartLib) RecordEvent(device int, stream Stream) (Event, error) {
	// the current device is per-thread state
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := l.err("cudaSetDevice", C.call_cudaSetDevice(l.syms["cudaSetDevice"], C.int(device))); err != nil {
		return nil, err
	}

	ev := &cudartEvent{lib: l}
	if err := l.err("cudaEventCreateWithFlags", C.call_cudaEventCreateWithFlags(l.syms["cudaEventCreateWithFlags"], &ev.hdl)); err != nil {
		return nil, err
	}
	if err := l.err("cudaEventRecord", C.call_cudaEventRecord(l.syms["cudaEventRecord"], ev.hdl, C.uintptr_t(stream))); err != nil {
		ev.Destroy()
		return nil, err
	}
	return ev, nil
}

func (l *cudartLib) Close() error {
	return l.hdl.Close()
}

type cudartEvent struct {
	lib *cudartLib
	hdl unsafe.Pointer
}

func (e *cudartEvent) Query() (bool, error) {
	rc := C.call_cudaEventQuery(e.lib.syms["cudaEventQuery"], e.hdl)
	if rc == C.GDR_CUDA_ERROR_NOT_READY {
		return false, nil
	}
	if err := e.lib.err("cudaEventQuery", rc); err != nil {
		return false, err
	}
	return true, nil
}

// Destroy releases the event.
func (e *cudartEvent) Destroy() error {
	return e.lib.err("cudaEventDestroy", C.call_cudaEventDestroy(e.lib.syms["cudaEventDestroy"], e.hdl))
}
