//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package hardware

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHardware_MatchHints(t *testing.T) {
	for name, tc := range map[string]struct {
		hints        []string
		adapters     []string
		numGPUs      int
		expMapping   []int
		expUnmatched []string
	}{
		"no adapters": {
			hints:   []string{"mlx5_0"},
			numGPUs: 1,
		},
		"no hints, no gpus": {
			adapters:   []string{"mlx5_0"},
			expMapping: []int{},
		},
		"no hints round robin": {
			adapters:   []string{"mlx5_0", "mlx5_1"},
			numGPUs:    3,
			expMapping: []int{0, 1, 0},
		},
		"exact matches": {
			hints:      []string{"mlx5_1", "mlx5_0"},
			adapters:   []string{"mlx5_0", "mlx5_1"},
			expMapping: []int{1, 0},
		},
		"empty hint falls back": {
			hints:      []string{"mlx5_0", "", "mlx5_0"},
			adapters:   []string{"mlx5_0", "mlx5_1"},
			expMapping: []int{0, 1, 0},
		},
		"unmatched hint falls back": {
			hints:        []string{"mlx5_9", "mlx5_0"},
			adapters:     []string{"mlx5_0", "mlx5_1"},
			expMapping:   []int{0, 0},
			expUnmatched: []string{"mlx5_9"},
		},
		"no partial matches": {
			hints:        []string{"", "mlx5"},
			adapters:     []string{"mlx5_0", "mlx5_1"},
			expMapping:   []int{0, 1},
			expUnmatched: []string{"mlx5"},
		},
		"more gpus than hints": {
			hints:      []string{"mlx5_1"},
			adapters:   []string{"mlx5_0", "mlx5_1"},
			numGPUs:    4,
			expMapping: []int{1, 1, 0, 1},
		},
	} {
		t.Run(name, func(t *testing.T) {
			mapping, unmatched := MatchHints(tc.hints, tc.adapters, tc.numGPUs)

			if diff := cmp.Diff(tc.expMapping, mapping); diff != "" {
				t.Fatalf("unexpected mapping (-want, +got):\n%s\n", diff)
			}
			if diff := cmp.Diff(tc.expUnmatched, unmatched); diff != "" {
				t.Fatalf("unexpected unmatched hints (-want, +got):\n%s\n", diff)
			}
		})
	}
}

func TestHardware_NearestAdapters(t *testing.T) {
	nic0 := MockPCIDevice("mlx5_0", DeviceTypeRDMA, 0x3a, 0x3b)
	nic1 := MockPCIDevice("mlx5_1", DeviceTypeRDMA, 0x85, 0x86)
	// behind the same switch as gpuSwitched
	nicSwitched := &PCIDevice{
		Name: "mlx5_2",
		Path: "/sys/devices/pci0000:17/0000:17:00.0/0000:18:00.0/0000:19:08.0/0000:1a:00.0",
	}
	gpuSwitched := &PCIDevice{
		Name: "gpu2",
		Path: "/sys/devices/pci0000:17/0000:17:00.0/0000:18:00.0/0000:19:10.0/0000:1b:00.0",
	}
	otherRoot := &PCIDevice{
		Name: "gpu3",
		Path: "/sys/devices/pci0000:d7/0000:d7:00.0/0000:d8:00.0",
	}

	for name, tc := range map[string]struct {
		gpus     PCIDevices
		adapters PCIDevices
		expHints []string
	}{
		"no gpus": {
			adapters: PCIDevices{nic0},
			expHints: []string{},
		},
		"no adapters": {
			gpus:     PCIDevices{MockPCIDevice("gpu0", DeviceTypeGPU, 0x3a, 0x3c)},
			expHints: []string{""},
		},
		"same root port": {
			gpus: PCIDevices{
				MockPCIDevice("gpu0", DeviceTypeGPU, 0x85, 0x87),
				MockPCIDevice("gpu1", DeviceTypeGPU, 0x3a, 0x3c),
			},
			adapters: PCIDevices{nic0, nic1},
			expHints: []string{"mlx5_1", "mlx5_0"},
		},
		"deepest switch wins": {
			gpus:     PCIDevices{gpuSwitched},
			adapters: PCIDevices{nic0, &PCIDevice{Name: "mlx5_3", Path: "/sys/devices/pci0000:17/0000:17:00.0"}, nicSwitched},
			expHints: []string{"mlx5_2"},
		},
		"no common root": {
			gpus:     PCIDevices{otherRoot, nil, {Name: "gpu5"}},
			adapters: PCIDevices{nic0, nic1, nil, {Name: "pathless"}},
			expHints: []string{"", "", ""},
		},
	} {
		t.Run(name, func(t *testing.T) {
			hints := NearestAdapters(tc.gpus, tc.adapters)

			if diff := cmp.Diff(tc.expHints, hints); diff != "" {
				t.Fatalf("unexpected hints (-want, +got):\n%s\n", diff)
			}
		})
	}
}
