//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package sysfs

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/hardware"
	"github.com/daos-stack/gdr/logging"
)

const defaultRoot = "/sys"

// NewProvider creates a new sysfs Provider.
func NewProvider(log logging.Logger) *Provider {
	return &Provider{
		root: defaultRoot,
		log:  log,
	}
}

// Provider provides PCI device information from sysfs.
type Provider struct {
	log  logging.Logger
	root string
}

// WithRoot makes the provider read the tree mounted at root instead of /sys.
func (s *Provider) WithRoot(root string) *Provider {
	s.root = root
	return s
}

func (s *Provider) getRoot() string {
	if s.root == "" {
		s.root = defaultRoot
	}
	return s.root
}

func (s *Provider) sysPath(pathElem ...string) string {
	pathElem = append([]string{s.getRoot()}, pathElem...)

	return filepath.Join(pathElem...)
}

// devicePath resolves a link into the device tree and returns it as if the
// tree were mounted at /sys.
func (s *Provider) devicePath(link string) (string, error) {
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", err
	}

	root, err := filepath.EvalSymlinks(s.getRoot())
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Errorf("%q is outside of %q", resolved, root)
	}

	return filepath.Join(defaultRoot, rel), nil
}

func (s *Provider) getNUMANode(pciPath string) uint {
	numaBytes, err := os.ReadFile(filepath.Join(pciPath, "numa_node"))
	if err != nil {
		s.log.Debugf("using default NUMA node, unable to get: %s", err.Error())
		return 0
	}
	numaStr := strings.TrimSpace(string(numaBytes))

	numaID, err := strconv.Atoi(numaStr)
	if err != nil || numaID < 0 {
		s.log.Debugf("invalid NUMA node ID %q, using NUMA node 0", numaStr)
		numaID = 0
	}
	return uint(numaID)
}

// getPCIAddress walks up the device path until a component parses as a
// PCI address.
func getPCIAddress(devPath string) (*hardware.PCIAddress, error) {
	for p := devPath; p != "/" && p != "."; p = filepath.Dir(p) {
		if addr, err := hardware.NewPCIAddress(filepath.Base(p)); err == nil {
			return addr, nil
		}
	}

	return nil, errors.Errorf("unable to parse PCI address from %q", devPath)
}

func (s *Provider) getPCIDevice(name string, devType hardware.DeviceType, link string) (*hardware.PCIDevice, error) {
	devPath, err := s.devicePath(link)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't get PCI device for %s", name)
	}

	addr, err := getPCIAddress(devPath)
	if err != nil {
		return nil, err
	}

	return &hardware.PCIDevice{
		Name:     name,
		Type:     devType,
		PCIAddr:  *addr,
		Path:     devPath,
		NUMANode: s.getNUMANode(s.sysPath(strings.TrimPrefix(devPath, defaultRoot))),
	}, nil
}

// GetRDMADevices returns the PCI devices backing the InfiniBand class
// devices, in name order.
func (s *Provider) GetRDMADevices(ctx context.Context) (hardware.PCIDevices, error) {
	if s == nil {
		return nil, errors.New("sysfs provider is nil")
	}

	entries, err := os.ReadDir(s.sysPath("class", "infiniband"))
	if os.IsNotExist(err) {
		s.log.Debug("no infiniband subsystem in sysfs")
		return hardware.PCIDevices{}, nil
	} else if err != nil {
		return nil, err
	}

	devs := make(hardware.PCIDevices, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		dev, err := s.getPCIDevice(name, hardware.DeviceTypeRDMA,
			s.sysPath("class", "infiniband", name, "device"))
		if err != nil {
			s.log.Debug(err.Error())
			continue
		}

		s.log.Debugf("found %s", dev)
		devs = append(devs, dev)
	}

	return devs, nil
}

// GetGPUDevice returns the PCI device for a GPU bus ID.
func (s *Provider) GetGPUDevice(name, busID string) (*hardware.PCIDevice, error) {
	if s == nil {
		return nil, errors.New("sysfs provider is nil")
	}

	addr, err := hardware.NewPCIAddress(busID)
	if err != nil {
		return nil, err
	}

	return s.getPCIDevice(name, hardware.DeviceTypeGPU, s.sysPath("bus", "pci", "devices", addr.String()))
}

// GetGPUDevices resolves every GPU bus ID, leaving a nil entry for any GPU
// that could not be found.
func (s *Provider) GetGPUDevices(busIDs []string) hardware.PCIDevices {
	gpus := make(hardware.PCIDevices, len(busIDs))
	for i, busID := range busIDs {
		gpu, err := s.GetGPUDevice("gpu"+strconv.Itoa(i), busID)
		if err != nil {
			s.log.Debugf("GPU %d: %s", i, err)
			continue
		}
		gpus[i] = gpu
	}
	return gpus
}

// GPUToAdapterHints derives one adapter-name hint per GPU bus ID from the
// PCI hierarchy. GPUs without a nearby adapter get an empty hint.
func (s *Provider) GPUToAdapterHints(ctx context.Context, busIDs []string) ([]string, error) {
	nics, err := s.GetRDMADevices(ctx)
	if err != nil {
		return nil, err
	}

	return hardware.NearestAdapters(s.GetGPUDevices(busIDs), nics), nil
}
