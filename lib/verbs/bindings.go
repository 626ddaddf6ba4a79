//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//
//go:build ibverbs
// +build ibverbs

package verbs

/*
#include <assert.h>
#include <stdlib.h>
#include <string.h>
#include <infiniband/verbs.h>

struct ibv_device **
call_ibv_get_device_list(void *fn, int *num)
{
	struct ibv_device **(*get_list)(int *);

	assert(fn != NULL);
	get_list = fn;

	return get_list(num);
}

void
call_ibv_free_device_list(void *fn, struct ibv_device **list)
{
	void (*free_list)(struct ibv_device **);

	assert(fn != NULL);
	free_list = fn;

	free_list(list);
}

struct ibv_device *
get_device_from_list(struct ibv_device **list, int idx)
{
	assert(list != NULL);

	return list[idx];
}

const char *
call_ibv_get_device_name(void *fn, struct ibv_device *dev)
{
	const char *(*get_name)(struct ibv_device *);

	assert(fn != NULL);
	get_name = fn;

	return get_name(dev);
}

__be64
call_ibv_get_device_guid(void *fn, struct ibv_device *dev)
{
	__be64 (*get_guid)(struct ibv_device *);

	assert(fn != NULL);
	get_guid = fn;

	return get_guid(dev);
}

struct ibv_context *
call_ibv_open_device(void *fn, struct ibv_device *dev)
{
	struct ibv_context *(*open_dev)(struct ibv_device *);

	assert(fn != NULL);
	open_dev = fn;

	return open_dev(dev);
}

int
call_ibv_close_device(void *fn, struct ibv_context *ctx)
{
	int (*close_dev)(struct ibv_context *);

	assert(fn != NULL);
	close_dev = fn;

	return close_dev(ctx);
}

struct ibv_pd *
call_ibv_alloc_pd(void *fn, struct ibv_context *ctx)
{
	struct ibv_pd *(*alloc_pd)(struct ibv_context *);

	assert(fn != NULL);
	alloc_pd = fn;

	return alloc_pd(ctx);
}

int
call_ibv_dealloc_pd(void *fn, struct ibv_pd *pd)
{
	int (*dealloc_pd)(struct ibv_pd *);

	assert(fn != NULL);
	dealloc_pd = fn;

	return dealloc_pd(pd);
}

struct ibv_cq *
call_ibv_create_cq(void *fn, struct ibv_context *ctx, int cqe)
{
	struct ibv_cq *(*create_cq)(struct ibv_context *, int, void *, struct ibv_comp_channel *, int);

	assert(fn != NULL);
	create_cq = fn;

	return create_cq(ctx, cqe, NULL, NULL, 0);
}

int
call_ibv_destroy_cq(void *fn, struct ibv_cq *cq)
{
	int (*destroy_cq)(struct ibv_cq *);

	assert(fn != NULL);
	destroy_cq = fn;

	return destroy_cq(cq);
}

struct ibv_mr *
call_ibv_reg_mr(void *fn, struct ibv_pd *pd, uintptr_t addr, size_t length, int access)
{
	struct ibv_mr *(*reg_mr)(struct ibv_pd *, void *, size_t, int);

	assert(fn != NULL);
	reg_mr = fn;

	return reg_mr(pd, (void *)addr, length, access);
}

int
call_ibv_dereg_mr(void *fn, struct ibv_mr *mr)
{
	int (*dereg_mr)(struct ibv_mr *);

	assert(fn != NULL);
	dereg_mr = fn;

	return dereg_mr(mr);
}

struct ibv_qp *
call_ibv_create_qp(void *fn, struct ibv_pd *pd, struct ibv_cq *cq, uint32_t max_send_wr,
		   uint32_t max_recv_wr, uint32_t max_send_sge, uint32_t max_recv_sge)
{
	struct ibv_qp *(*create_qp)(struct ibv_pd *, struct ibv_qp_init_attr *);
	struct ibv_qp_init_attr attr;

	assert(fn != NULL);
	create_qp = fn;

	memset(&attr, 0, sizeof(attr));
	attr.send_cq = cq;
	attr.recv_cq = cq;
	attr.qp_type = IBV_QPT_RC;
	attr.sq_sig_all = 1;
	attr.cap.max_send_wr = max_send_wr;
	attr.cap.max_recv_wr = max_recv_wr;
	attr.cap.max_send_sge = max_send_sge;
	attr.cap.max_recv_sge = max_recv_sge;

	return create_qp(pd, &attr);
}

int
call_ibv_destroy_qp(void *fn, struct ibv_qp *qp)
{
	int (*destroy_qp)(struct ibv_qp *);

	assert(fn != NULL);
	destroy_qp = fn;

	return destroy_qp(qp);
}

int
call_ibv_query_port(void *fn, struct ibv_context *ctx, uint8_t port, uint16_t *lid,
		    uint32_t *mtu)
{
	int (*query_port)(struct ibv_context *, uint8_t, struct ibv_port_attr *);
	struct ibv_port_attr attr;
	int rc;

	assert(fn != NULL);
	query_port = fn;

	memset(&attr, 0, sizeof(attr));
	rc = query_port(ctx, port, &attr);
	if (rc == 0) {
		*lid = attr.lid;
		*mtu = attr.active_mtu;
	}
	return rc;
}

int
call_ibv_query_gid(void *fn, struct ibv_context *ctx, uint8_t port, int index, uint8_t *gid)
{
	int (*query_gid)(struct ibv_context *, uint8_t, int, union ibv_gid *);

	assert(fn != NULL);
	query_gid = fn;

	return query_gid(ctx, port, index, (union ibv_gid *)gid);
}

int
call_ibv_modify_qp_to_rts(void *fn, struct ibv_qp *qp, uint8_t port, uint32_t mtu,
			  uint16_t dlid, uint8_t *dgid, uint8_t gid_index, uint32_t dqpn,
			  uint32_t rpsn, uint32_t lpsn)
{
	int (*modify_qp)(struct ibv_qp *, struct ibv_qp_attr *, int);
	struct ibv_qp_attr attr;
	int rc;

	assert(fn != NULL);
	modify_qp = fn;

	memset(&attr, 0, sizeof(attr));
	attr.qp_state = IBV_QPS_INIT;
	attr.pkey_index = 0;
	attr.port_num = port;
	attr.qp_access_flags = IBV_ACCESS_LOCAL_WRITE | IBV_ACCESS_REMOTE_WRITE |
			       IBV_ACCESS_REMOTE_READ;
	rc = modify_qp(qp, &attr, IBV_QP_STATE | IBV_QP_PKEY_INDEX | IBV_QP_PORT |
			   IBV_QP_ACCESS_FLAGS);
	if (rc != 0)
		return rc;

	memset(&attr, 0, sizeof(attr));
	attr.qp_state = IBV_QPS_RTR;
	attr.path_mtu = mtu;
	attr.dest_qp_num = dqpn;
	attr.rq_psn = rpsn;
	attr.max_dest_rd_atomic = 1;
	attr.min_rnr_timer = 20;
	attr.ah_attr.is_global = 1;
	attr.ah_attr.dlid = dlid;
	attr.ah_attr.port_num = port;
	attr.ah_attr.grh.hop_limit = 1;
	attr.ah_attr.grh.sgid_index = gid_index;
	memcpy(&attr.ah_attr.grh.dgid, dgid, 16);
	rc = modify_qp(qp, &attr, IBV_QP_STATE | IBV_QP_AV | IBV_QP_PATH_MTU |
			   IBV_QP_DEST_QPN | IBV_QP_RQ_PSN | IBV_QP_MAX_DEST_RD_ATOMIC |
			   IBV_QP_MIN_RNR_TIMER);
	if (rc != 0)
		return rc;

	memset(&attr, 0, sizeof(attr));
	attr.qp_state = IBV_QPS_RTS;
	attr.sq_psn = lpsn;
	attr.timeout = 14;
	attr.retry_cnt = 7;
	attr.rnr_retry = 7;
	attr.max_rd_atomic = 1;
	return modify_qp(qp, &attr, IBV_QP_STATE | IBV_QP_SQ_PSN | IBV_QP_TIMEOUT |
			 IBV_QP_RETRY_CNT | IBV_QP_RNR_RETRY | IBV_QP_MAX_QP_RD_ATOMIC);
}

int
post_send(struct ibv_qp *qp, uint64_t wr_id, int opcode, struct ibv_sge *sges, int num_sge,
	  uint64_t remote_addr, uint32_t rkey, uint32_t imm)
{
	struct ibv_send_wr wr;
	struct ibv_send_wr *bad_wr = NULL;

	memset(&wr, 0, sizeof(wr));
	wr.wr_id = wr_id;
	wr.sg_list = sges;
	wr.num_sge = num_sge;
	wr.opcode = opcode;
	wr.send_flags = IBV_SEND_SIGNALED;
	wr.imm_data = htonl(imm);
	wr.wr.rdma.remote_addr = remote_addr;
	wr.wr.rdma.rkey = rkey;

	return ibv_post_send(qp, &wr, &bad_wr);
}

int
post_recv(struct ibv_qp *qp, uint64_t wr_id, struct ibv_sge *sges, int num_sge)
{
	struct ibv_recv_wr wr;
	struct ibv_recv_wr *bad_wr = NULL;

	memset(&wr, 0, sizeof(wr));
	wr.wr_id = wr_id;
	wr.sg_list = sges;
	wr.num_sge = num_sge;

	return ibv_post_recv(qp, &wr, &bad_wr);
}

int
poll_cq(struct ibv_cq *cq, int num, struct ibv_wc *wcs)
{
	return ibv_poll_cq(cq, num, wcs);
}

struct ibv_wc *
get_wc_from_list(struct ibv_wc *wcs, int idx)
{
	return &wcs[idx];
}
*/
import "C"

import (
	"fmt"
	"math/rand"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/dlopen"
)

const libibverbsAPIVersion = 1

var verbsSymbols = []string{
	"ibv_get_device_list",
	"ibv_free_device_list",
	"ibv_get_device_name",
	"ibv_get_device_guid",
	"ibv_open_device",
	"ibv_close_device",
	"ibv_alloc_pd",
	"ibv_dealloc_pd",
	"ibv_create_cq",
	"ibv_destroy_cq",
	"ibv_reg_mr",
	"ibv_dereg_mr",
	"ibv_create_qp",
	"ibv_destroy_qp",
	"ibv_modify_qp",
	"ibv_query_port",
	"ibv_query_gid",
}

// Load dynamically loads libibverbs.
func Load() (Lib, error) {
	hdl, err := dlopen.GetHandle("libibverbs.so.1", "libibverbs.so")
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	syms, err := hdl.Symbols(verbsSymbols...)
	if err != nil {
		hdl.Close()
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	return &ibvLib{hdl: hdl, syms: syms}, nil
}

type ibvLib struct {
	hdl  *dlopen.LibHandle
	syms map[string]unsafe.Pointer
}

func (l *ibvLib) sym(name string) unsafe.Pointer {
	return l.syms[name]
}

func (l *ibvLib) Name() string {
	return l.hdl.Libname
}

func (l *ibvLib) APIVersion() int {
	return libibverbsAPIVersion
}

func (l *ibvLib) withDeviceList(fn func(devs []*C.struct_ibv_device) error) error {
	var num C.int
	list, err := C.call_ibv_get_device_list(l.sym("ibv_get_device_list"), &num)
	if list == nil {
		return errors.Wrap(err, "ibv_get_device_list")
	}
	defer C.call_ibv_free_device_list(l.sym("ibv_free_device_list"), list)

	devs := make([]*C.struct_ibv_device, 0, int(num))
	for i := 0; i < int(num); i++ {
		devs = append(devs, C.get_device_from_list(list, C.int(i)))
	}
	return fn(devs)
}

func (l *ibvLib) devName(dev *C.struct_ibv_device) string {
	return C.GoString(C.call_ibv_get_device_name(l.sym("ibv_get_device_name"), dev))
}

func (l *ibvLib) Devices() ([]DeviceInfo, error) {
	var infos []DeviceInfo
	err := l.withDeviceList(func(devs []*C.struct_ibv_device) error {
		for _, dev := range devs {
			infos = append(infos, DeviceInfo{
				Name: l.devName(dev),
				GUID: uint64(C.call_ibv_get_device_guid(l.sym("ibv_get_device_guid"), dev)),
			})
		}
		return nil
	})
	return infos, err
}

func (l *ibvLib) OpenDevice(name string) (Device, error) {
	var opened *ibvDevice
	err := l.withDeviceList(func(devs []*C.struct_ibv_device) error {
		for _, dev := range devs {
			if l.devName(dev) != name {
				continue
			}
			ctx, err := C.call_ibv_open_device(l.sym("ibv_open_device"), dev)
			if ctx == nil {
				return errors.Wrapf(err, "ibv_open_device(%s)", name)
			}
			opened = &ibvDevice{lib: l, name: name, ctx: ctx}
			return nil
		}
		return errors.Errorf("device %q not found", name)
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

func (l *ibvLib) Close() error {
	return l.hdl.Close()
}

func rcToErr(op string, rc C.int) error {
	if rc == 0 {
		return nil
	}
	errno := syscall.Errno(rc)
	if rc < 0 {
		errno = syscall.Errno(-rc)
	}
	return errors.Wrap(errno, op)
}

type ibvDevice struct {
	lib  *ibvLib
	name string
	ctx  *C.struct_ibv_context
}

func (d *ibvDevice) Name() string {
	return d.name
}

func (d *ibvDevice) AllocPD() (ProtectionDomain, error) {
	pd, err := C.call_ibv_alloc_pd(d.lib.sym("ibv_alloc_pd"), d.ctx)
	if pd == nil {
		return nil, errors.Wrap(err, "ibv_alloc_pd")
	}
	return &ibvPD{lib: d.lib, pd: pd}, nil
}

func (d *ibvDevice) CreateCQ(size int) (CompletionQueue, error) {
	cq, err := C.call_ibv_create_cq(d.lib.sym("ibv_create_cq"), d.ctx, C.int(size))
	if cq == nil {
		return nil, errors.Wrap(err, "ibv_create_cq")
	}
	return &ibvCQ{lib: d.lib, cq: cq}, nil
}

func (d *ibvDevice) QueryAddress(port uint8, gidIndex uint8) (Address, error) {
	addr := Address{PortNum: port, GIDIndex: gidIndex}

	var lid C.uint16_t
	var mtu C.uint32_t
	rc := C.call_ibv_query_port(d.lib.sym("ibv_query_port"), d.ctx, C.uint8_t(port), &lid, &mtu)
	if err := rcToErr("ibv_query_port", rc); err != nil {
		return addr, err
	}
	addr.LID = uint16(lid)
	addr.MTU = uint32(mtu)

	rc = C.call_ibv_query_gid(d.lib.sym("ibv_query_gid"), d.ctx, C.uint8_t(port), C.int(gidIndex),
		(*C.uint8_t)(unsafe.Pointer(&addr.GID[0])))
	if err := rcToErr("ibv_query_gid", rc); err != nil {
		return addr, err
	}

	return addr, nil
}

func (d *ibvDevice) Close() error {
	return rcToErr("ibv_close_device", C.call_ibv_close_device(d.lib.sym("ibv_close_device"), d.ctx))
}

type ibvPD struct {
	lib *ibvLib
	pd  *C.struct_ibv_pd
}

func (p *ibvPD) RegisterMemory(addr uintptr, length uint64, access AccessFlags) (MemoryRegion, error) {
	var flags C.int
	if access&AccessLocalWrite != 0 {
		flags |= C.IBV_ACCESS_LOCAL_WRITE
	}
	if access&AccessRemoteWrite != 0 {
		flags |= C.IBV_ACCESS_REMOTE_WRITE
	}
	if access&AccessRemoteRead != 0 {
		flags |= C.IBV_ACCESS_REMOTE_READ
	}

	mr, err := C.call_ibv_reg_mr(p.lib.sym("ibv_reg_mr"), p.pd, C.uintptr_t(addr), C.size_t(length), flags)
	if mr == nil {
		return nil, errors.Wrapf(err, "ibv_reg_mr(%#x, %d)", addr, length)
	}
	return &ibvMR{lib: p.lib, mr: mr, addr: addr, length: length}, nil
}

func (p *ibvPD) CreateQueuePair(cq CompletionQueue, caps QPCaps) (QueuePair, error) {
	icq, ok := cq.(*ibvCQ)
	if !ok {
		return nil, errors.Errorf("completion queue %T is not an ibverbs queue", cq)
	}

	qp, err := C.call_ibv_create_qp(p.lib.sym("ibv_create_qp"), p.pd, icq.cq,
		C.uint32_t(caps.MaxSendWR), C.uint32_t(caps.MaxRecvWR),
		C.uint32_t(caps.MaxSendSGE), C.uint32_t(caps.MaxRecvSGE))
	if qp == nil {
		return nil, errors.Wrap(err, "ibv_create_qp")
	}
	return &ibvQP{lib: p.lib, qp: qp, psn: rand.Uint32() & 0xffffff}, nil
}

func (p *ibvPD) Close() error {
	return rcToErr("ibv_dealloc_pd", C.call_ibv_dealloc_pd(p.lib.sym("ibv_dealloc_pd"), p.pd))
}

type ibvMR struct {
	lib    *ibvLib
	mr     *C.struct_ibv_mr
	addr   uintptr
	length uint64
}

func (m *ibvMR) Addr() uintptr  { return m.addr }
func (m *ibvMR) Length() uint64 { return m.length }
func (m *ibvMR) LKey() uint32   { return uint32(m.mr.lkey) }
func (m *ibvMR) RKey() uint32   { return uint32(m.mr.rkey) }
func (m *ibvMR) String() string { return fmt.Sprintf("mr@%#x[%d]", m.addr, m.length) }

func (m *ibvMR) Deregister() error {
	return rcToErr("ibv_dereg_mr", C.call_ibv_dereg_mr(m.lib.sym("ibv_dereg_mr"), m.mr))
}

type ibvCQ struct {
	lib *ibvLib
	cq  *C.struct_ibv_cq
	wcs *C.struct_ibv_wc
	cap int
}

func (c *ibvCQ) Poll(wcs []WorkCompletion) (int, error) {
	if len(wcs) == 0 {
		return 0, nil
	}
	if c.cap < len(wcs) {
		if c.wcs != nil {
			C.free(unsafe.Pointer(c.wcs))
		}
		c.wcs = (*C.struct_ibv_wc)(C.calloc(C.size_t(len(wcs)), C.sizeof_struct_ibv_wc))
		c.cap = len(wcs)
	}

	n := int(C.poll_cq(c.cq, C.int(len(wcs)), c.wcs))
	if n < 0 {
		return 0, errors.Errorf("ibv_poll_cq failed (%d)", n)
	}
	for i := 0; i < n; i++ {
		wc := C.get_wc_from_list(c.wcs, C.int(i))
		wcs[i] = WorkCompletion{
			WRID:      uint64(wc.wr_id),
			Status:    WCStatus(wc.status),
			VendorErr: uint32(wc.vendor_err),
			ByteLen:   uint32(wc.byte_len),
			QPNum:     uint32(wc.qp_num),
		}
	}
	return n, nil
}

func (c *ibvCQ) Close() error {
	if c.wcs != nil {
		C.free(unsafe.Pointer(c.wcs))
		c.wcs = nil
	}
	return rcToErr("ibv_destroy_cq", C.call_ibv_destroy_cq(c.lib.sym("ibv_destroy_cq"), c.cq))
}

type ibvQP struct {
	lib *ibvLib
	qp  *C.struct_ibv_qp
	psn uint32
}

func (q *ibvQP) Num() uint32 {
	return uint32(q.qp.qp_num)
}

func (q *ibvQP) PSN() uint32 {
	return q.psn
}

func (q *ibvQP) Connect(local Address, remote QueuePairSetup) error {
	dgid := remote.Address.GID
	rc := C.call_ibv_modify_qp_to_rts(q.lib.sym("ibv_modify_qp"), q.qp,
		C.uint8_t(local.PortNum), C.uint32_t(local.MTU), C.uint16_t(remote.Address.LID),
		(*C.uint8_t)(unsafe.Pointer(&dgid[0])), C.uint8_t(local.GIDIndex),
		C.uint32_t(remote.QPNum), C.uint32_t(remote.PSN), C.uint32_t(q.psn))
	return rcToErr("ibv_modify_qp", rc)
}

func allocSGEs(sgl []SGE) (*C.struct_ibv_sge, func()) {
	if len(sgl) == 0 {
		return nil, func() {}
	}
	sges := (*C.struct_ibv_sge)(C.calloc(C.size_t(len(sgl)), C.sizeof_struct_ibv_sge))
	arr := unsafe.Slice(sges, len(sgl))
	for i, sge := range sgl {
		arr[i].addr = C.uint64_t(sge.Addr)
		arr[i].length = C.uint32_t(sge.Length)
		arr[i].lkey = C.uint32_t(sge.LKey)
	}
	return sges, func() { C.free(unsafe.Pointer(sges)) }
}

var opcodes = map[Opcode]C.int{
	OpSend:             C.IBV_WR_SEND,
	OpSendWithImm:      C.IBV_WR_SEND_WITH_IMM,
	OpRDMAWrite:        C.IBV_WR_RDMA_WRITE,
	OpRDMAWriteWithImm: C.IBV_WR_RDMA_WRITE_WITH_IMM,
	OpRDMARead:         C.IBV_WR_RDMA_READ,
}

func (q *ibvQP) PostSend(wrID uint64, wr *SendWR) error {
	opcode, found := opcodes[wr.Opcode]
	if !found {
		return errors.Errorf("unsupported opcode %s", wr.Opcode)
	}

	sges, free := allocSGEs(wr.SGList)
	defer free()

	rc := C.post_send(q.qp, C.uint64_t(wrID), opcode, sges, C.int(len(wr.SGList)),
		C.uint64_t(wr.RemoteAddr), C.uint32_t(wr.RKey), C.uint32_t(wr.ImmData))
	return rcToErr("ibv_post_send", rc)
}

func (q *ibvQP) PostRecv(wrID uint64, wr *RecvWR) error {
	sges, free := allocSGEs(wr.SGList)
	defer free()

	rc := C.post_recv(q.qp, C.uint64_t(wrID), sges, C.int(len(wr.SGList)))
	return rcToErr("ibv_post_recv", rc)
}

func (q *ibvQP) Close() error {
	return rcToErr("ibv_destroy_qp", C.call_ibv_destroy_qp(q.lib.sym("ibv_destroy_qp"), q.qp))
}
