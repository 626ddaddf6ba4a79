//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package hardware

import (
	"path/filepath"
	"strings"
)

// MatchHints maps each GPU index to an adapter index. Hint i names the
// preferred adapter for GPU i. A hint that is empty or names no known
// adapter falls back to round-robin over the adapters by GPU index; the
// unmatched non-empty hints are returned so the caller can report them.
// The mapping covers max(len(hints), numGPUs) GPUs and is nil if there are
// no adapters.
func MatchHints(hints []string, adapterNames []string, numGPUs int) (mapping []int, unmatched []string) {
	if len(adapterNames) == 0 {
		return nil, nil
	}

	byName := make(map[string]int, len(adapterNames))
	for i, name := range adapterNames {
		if _, found := byName[name]; !found {
			byName[name] = i
		}
	}

	if numGPUs < len(hints) {
		numGPUs = len(hints)
	}
	mapping = make([]int, numGPUs)
	for gpu := range mapping {
		mapping[gpu] = gpu % len(adapterNames)
		if gpu >= len(hints) || hints[gpu] == "" {
			continue
		}
		if idx, found := byName[hints[gpu]]; found {
			mapping[gpu] = idx
			continue
		}
		unmatched = append(unmatched, hints[gpu])
	}

	return
}

func pathElems(path string) []string {
	return strings.Split(strings.Trim(filepath.Clean(path), "/"), "/")
}

// commonDepth returns the number of leading path elements a and b share.
func commonDepth(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// NearestAdapters returns, for each GPU, the name of the adapter that shares
// the longest prefix of the sysfs device path with it, i.e. the adapter
// behind the closest common PCI switch or root port. Ties go to the adapter
// listed first. A GPU without a path, or one that shares nothing beyond the
// device tree root with any adapter, gets an empty hint.
func NearestAdapters(gpus, adapters PCIDevices) []string {
	hints := make([]string, len(gpus))
	for i, gpu := range gpus {
		if gpu == nil || gpu.Path == "" {
			continue
		}
		gpuElems := pathElems(gpu.Path)

		// sharing only "sys/devices" is no affinity at all
		best := 2
		for _, nic := range adapters {
			if nic == nil || nic.Path == "" {
				continue
			}
			if depth := commonDepth(gpuElems, pathElems(nic.Path)); depth > best {
				best = depth
				hints[i] = nic.Name
			}
		}
	}
	return hints
}
