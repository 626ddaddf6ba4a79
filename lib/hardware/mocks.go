//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package hardware

import "fmt"

// MockPCIAddress returns a PCI address for testing. Missing trailing
// fields (domain, bus, device, function) are zero.
func MockPCIAddress(fields ...uint8) *PCIAddress {
	var f [4]uint8
	copy(f[:], fields)

	return &PCIAddress{
		Domain:   uint16(f[0]),
		Bus:      f[1],
		Device:   f[2],
		Function: f[3],
	}
}

// MockPCIDevice returns a device whose sysfs path places it below the root
// port on rootBus.
func MockPCIDevice(name string, devType DeviceType, rootBus, bus uint8) *PCIDevice {
	dev := &PCIDevice{
		Name:    name,
		Type:    devType,
		PCIAddr: *MockPCIAddress(0, bus),
	}
	dev.Path = fmt.Sprintf("/sys/devices/pci0000:%02x/%s/%s",
		rootBus, MockPCIAddress(0, rootBus), &dev.PCIAddr)
	return dev
}
