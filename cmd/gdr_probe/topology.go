//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/daos-stack/gdr/channel/cudagdr"
	"github.com/daos-stack/gdr/config"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/hardware/sysfs"
	"github.com/daos-stack/gdr/lib/txtfmt"
	"github.com/daos-stack/gdr/lib/verbs"
	"github.com/daos-stack/gdr/logging"
)

type (
	adapterInfo struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
		LID   uint16 `json:"lid"`
		GID   string `json:"gid"`
	}

	gpuInfo struct {
		Index   int    `json:"index"`
		BusID   string `json:"bus_id"`
		Hint    string `json:"hint,omitempty"`
		Adapter string `json:"adapter,omitempty"`
	}

	topology struct {
		Domain      string        `json:"domain_descriptor"`
		Unavailable string        `json:"unavailable,omitempty"`
		Adapters    []adapterInfo `json:"adapters"`
		GPUs        []gpuInfo     `json:"gpus"`
	}
)

// topologyCmd opens an engine context and reports which adapter serves
// each GPU.
type topologyCmd struct {
	logCmd
	cfgCmd
	jsonOutputCmd
	outputCmd

	Auto      bool   `short:"a" long:"auto" description:"Derive GPU to adapter hints from the PCI hierarchy"`
	SysfsRoot string `long:"sysfs-root" default:"/sys" hidden:"true" description:"Root of the sysfs tree"`

	verbsLoader verbs.Loader
	cudaLoader  func() (cuda.Lib, error)
}

func (cmd *topologyCmd) gpuBusIDs() []string {
	loader := cmd.cudaLoader
	if loader == nil {
		loader = cuda.Load
	}

	lib, err := loader()
	if err != nil {
		cmd.log.Noticef("no GPUs: %s", err)
		return nil
	}
	defer lib.Close()

	count, err := lib.DeviceCount()
	if err != nil {
		cmd.log.Noticef("no GPUs: %s", err)
		return nil
	}

	busIDs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		busID, err := lib.PCIBusID(i)
		if err != nil {
			cmd.log.Errorf("gpu %d: %s", i, err)
		}
		busIDs = append(busIDs, busID)
	}
	return busIDs
}

func (cmd *topologyCmd) hints(ctx context.Context, busIDs []string) ([]string, error) {
	auto := cmd.Auto || cmd.cfg.AutoAffinity
	if len(cmd.cfg.GPUNICHints) > 0 {
		if auto {
			return nil, config.FaultBadHints()
		}
		return cmd.cfg.GPUNICHints, nil
	}
	if !auto || len(busIDs) == 0 {
		return nil, nil
	}

	return sysfs.NewProvider(logging.FromContext(ctx)).WithRoot(cmd.SysfsRoot).GPUToAdapterHints(ctx, busIDs)
}

func (cmd *topologyCmd) Execute(_ []string) error {
	ctx, err := logging.ToContext(context.Background(), cmd.log)
	if err != nil {
		return err
	}

	busIDs := cmd.gpuBusIDs()
	hints, err := cmd.hints(ctx, busIDs)
	if err != nil {
		return err
	}

	opts := []cudagdr.ContextOption{
		cudagdr.WithConfig(cmd.cfg),
		cudagdr.WithNumGPUs(len(busIDs)),
	}
	if cmd.verbsLoader != nil {
		opts = append(opts, cudagdr.WithLoader(cmd.verbsLoader))
	}
	c, err := cudagdr.NewContext(cmd.log, hints, opts...)
	if err != nil {
		return err
	}

	topo, err := getTopology(c, busIDs, hints)
	if err != nil {
		c.Join()
		return err
	}
	if err := c.Join(); err != nil {
		return err
	}

	if cmd.jsonOutputEnabled() {
		return cmd.outputJSON(cmd.out, topo)
	}
	return printTopology(cmd, topo)
}

func getTopology(c *cudagdr.Context, busIDs, hints []string) (*topology, error) {
	topo := &topology{
		Domain:   c.DomainDescriptor(),
		Adapters: []adapterInfo{},
		GPUs:     []gpuInfo{},
	}
	if err := c.Unavailable(); err != nil {
		topo.Unavailable = err.Error()
	}

	for i := 0; i < c.NumAdapters(); i++ {
		a, err := c.Adapter(i)
		if err != nil {
			return nil, err
		}
		addr := a.Address()
		topo.Adapters = append(topo.Adapters, adapterInfo{
			Index: i,
			Name:  a.Name(),
			LID:   addr.LID,
			GID:   net.IP(addr.GID[:]).String(),
		})
	}

	mapping := c.GPUToAdapterMapping()
	numGPUs := len(busIDs)
	if len(mapping) > numGPUs {
		numGPUs = len(mapping)
	}
	for gpu := 0; gpu < numGPUs; gpu++ {
		info := gpuInfo{Index: gpu}
		if gpu < len(busIDs) {
			info.BusID = busIDs[gpu]
		}
		if gpu < len(hints) {
			info.Hint = hints[gpu]
		}
		if gpu < len(mapping) {
			info.Adapter = topo.Adapters[mapping[gpu]].Name
		}
		topo.GPUs = append(topo.GPUs, info)
	}

	return topo, nil
}

func printTopology(cmd *topologyCmd, topo *topology) error {
	if topo.Unavailable != "" {
		cmd.log.Noticef("RDMA unavailable: %s", topo.Unavailable)
	}

	fmt.Fprintf(cmd.out, "Domain: %s\n\n", topo.Domain)

	adapterTable := txtfmt.NewTableFormatter("Index", "Adapter", "LID", "GID")
	var adapterRows []txtfmt.TableRow
	for _, a := range topo.Adapters {
		adapterRows = append(adapterRows, txtfmt.TableRow{
			"Index":   strconv.Itoa(a.Index),
			"Adapter": a.Name,
			"LID":     strconv.Itoa(int(a.LID)),
			"GID":     a.GID,
		})
	}
	if err := adapterTable.Fprint(cmd.out, adapterRows); err != nil {
		return err
	}
	fmt.Fprintln(cmd.out)

	gpuTable := txtfmt.NewTableFormatter("GPU", "Bus ID", "Hint", "Adapter")
	var gpuRows []txtfmt.TableRow
	for _, g := range topo.GPUs {
		gpuRows = append(gpuRows, txtfmt.TableRow{
			"GPU":     strconv.Itoa(g.Index),
			"Bus ID":  g.BusID,
			"Hint":    g.Hint,
			"Adapter": g.Adapter,
		})
	}
	return gpuTable.Fprint(cmd.out, gpuRows)
}
