//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package hardware

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// bdfFields splits a "dddd:bb:dd.f" address into its four hex fields.
func bdfFields(addr string) ([4]string, error) {
	var out [4]string
	parts := strings.Split(addr, ":")
	if len(parts) == 3 {
		if dev, fn, ok := strings.Cut(parts[2], "."); ok {
			out = [4]string{parts[0], parts[1], dev, fn}
			return out, nil
		}
	}
	return out, errors.Errorf("unexpected pci address bdf format: %q", addr)
}

// PCIAddress represents the address of a PCI device.
type PCIAddress struct {
	Domain   uint16 `json:"domain"`
	Bus      uint8  `json:"bus"`
	Device   uint8  `json:"device"`
	Function uint8  `json:"function"`
}

func (pa *PCIAddress) String() string {
	if pa == nil {
		return ""
	}
	return fmt.Sprintf("%04x:%02x:%02x.%x", pa.Domain, pa.Bus, pa.Device, pa.Function)
}

// MarshalText implements encoding.TextMarshaler so that addresses render in
// BDF form in JSON output.
func (pa PCIAddress) MarshalText() ([]byte, error) {
	return []byte(pa.String()), nil
}

// Equals reports whether both addresses are non-nil and identical.
func (pa *PCIAddress) Equals(other *PCIAddress) bool {
	if pa == nil || other == nil {
		return false
	}

	return *pa == *other
}

// sortKey packs the address so that numeric order matches
// domain/bus/device/function order.
func (pa *PCIAddress) sortKey() uint64 {
	return uint64(pa.Domain)<<24 | uint64(pa.Bus)<<16 | uint64(pa.Device)<<8 | uint64(pa.Function)
}

// LessThan reports whether pa sorts before other.
func (pa *PCIAddress) LessThan(other *PCIAddress) bool {
	if pa == nil || other == nil {
		return false
	}
	return pa.sortKey() < other.sortKey()
}

// NewPCIAddress parses a BDF address such as "0000:3b:00.0". Hex digits
// may be upper case, as CUDA reports them.
func NewPCIAddress(addr string) (*PCIAddress, error) {
	fields, err := bdfFields(strings.TrimSpace(addr))
	if err != nil {
		return nil, err
	}

	var vals [4]uint64
	for i, bits := range [4]int{16, 8, 8, 8} {
		if vals[i], err = strconv.ParseUint(fields[i], 16, bits); err != nil {
			return nil, errors.Wrapf(err, "unable to parse %q", addr)
		}
	}

	return &PCIAddress{
		Domain:   uint16(vals[0]),
		Bus:      uint8(vals[1]),
		Device:   uint8(vals[2]),
		Function: uint8(vals[3]),
	}, nil
}

// MustNewPCIAddress is NewPCIAddress for known-good input. It panics on
// a parse failure.
func MustNewPCIAddress(addr string) *PCIAddress {
	pa, err := NewPCIAddress(addr)
	if err != nil {
		panic(err)
	}
	return pa
}

// PCIDevice describes a device attached to the PCI hierarchy.
type PCIDevice struct {
	Name    string     `json:"name"`
	Type    DeviceType `json:"type"`
	PCIAddr PCIAddress `json:"pci_address"`
	// Path is the device's resolved location in the sysfs device tree,
	// e.g. "/sys/devices/pci0000:3a/0000:3a:00.0/0000:3b:00.0".
	Path     string `json:"path"`
	NUMANode uint   `json:"numa_node"`
}

func (d *PCIDevice) String() string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("%s %s@%s (NUMA %d)", d.Type, d.Name, &d.PCIAddr, d.NUMANode)
}

// PCIDevices is a list of devices sortable by PCI address.
type PCIDevices []*PCIDevice

// Sort orders the devices by PCI address.
func (ds PCIDevices) Sort() {
	sort.Slice(ds, func(i, j int) bool {
		return ds[i].PCIAddr.LessThan(&ds[j].PCIAddr)
	})
}

// Names returns the device names in list order.
func (ds PCIDevices) Names() []string {
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		names = append(names, d.Name)
	}
	return names
}

// DeviceType indicates the type of a hardware device.
type DeviceType uint

const (
	// DeviceTypeUnknown indicates a device type that is not recognized.
	DeviceTypeUnknown DeviceType = iota
	// DeviceTypeRDMA indicates an RDMA-capable network adapter.
	DeviceTypeRDMA
	// DeviceTypeGPU indicates a GPU.
	DeviceTypeGPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeRDMA:
		return "RDMA adapter"
	case DeviceTypeGPU:
		return "GPU"
	}

	return "unknown device type"
}
