//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/daos-stack/gdr/build"
	"github.com/daos-stack/gdr/channel/cudagdr"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/telemetry/promexp"
	"github.com/daos-stack/gdr/lib/txtfmt"
	"github.com/daos-stack/gdr/lib/ui"
	"github.com/daos-stack/gdr/lib/verbs/loopback"
)

const selfTestID = "selftest"

// selfTestBase is the first simulated device address used by the self test.
const selfTestBase = uintptr(0x7f0000000000)

type selfTestResult struct {
	Adapters  uint          `json:"adapters"`
	Pairs     uint          `json:"pairs"`
	Completed uint          `json:"completed"`
	Failed    uint          `json:"failed"`
	Bytes     uint64        `json:"bytes"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Errors    []string      `json:"errors,omitempty"`
}

// selfTestCmd drives send/receive pairs through an engine context that is
// bound to loopback adapters and simulated GPUs.
type selfTestCmd struct {
	logCmd
	cfgCmd
	jsonOutputCmd
	outputCmd

	Pairs    uint            `short:"n" long:"pairs" default:"16" description:"Number of send/receive pairs"`
	Size     ui.ByteSizeFlag `short:"s" long:"size" default:"1MiB" description:"Buffer size of each operation"`
	Adapters uint            `short:"a" long:"adapters" default:"2" description:"Number of loopback adapters"`
	Timeout  time.Duration   `short:"t" long:"timeout" default:"30s" description:"Maximum time to wait for the operations"`
	Metrics  bool            `short:"m" long:"metrics" description:"Print the engine metrics after the run"`
}

func (cmd *selfTestCmd) checkArgs() (uint64, error) {
	size := cmd.Size.Bytes
	switch {
	case size == 0:
		return 0, errors.New("size must be greater than zero")
	case cmd.Pairs == 0:
		return 0, errors.New("pairs must be greater than zero")
	case cmd.Adapters == 0:
		return 0, errors.New("adapters must be greater than zero")
	}
	return size, nil
}

func (cmd *selfTestCmd) Execute(_ []string) error {
	size, err := cmd.checkArgs()
	if err != nil {
		return err
	}

	names := make([]string, cmd.Adapters)
	busIDs := make([]string, cmd.Adapters)
	for i := range names {
		names[i] = fmt.Sprintf("lo_%d", i)
		busIDs[i] = fmt.Sprintf("0000:%02x:00.0", 0x10+i)
	}
	cudaLib := cuda.NewMockLib(&cuda.MockLibConfig{BusIDs: busIDs, AutoComplete: true})
	verbsLib := loopback.NewLib(loopback.WithDevices(names...), loopback.WithAutoComplete())

	reg := prometheus.NewRegistry()
	c, err := cudagdr.NewContext(cmd.log, nil,
		cudagdr.WithConfig(cmd.cfg),
		cudagdr.WithLoader(verbsLib.Loader()),
		cudagdr.WithNumGPUs(len(busIDs)),
		cudagdr.WithRegisterer(reg),
		cudagdr.WithID(selfTestID),
	)
	if err != nil {
		return err
	}
	if err := c.Unavailable(); err != nil {
		c.Join()
		return err
	}

	if cmd.cfg.TelemetryPort > 0 {
		stop, err := promexp.StartExporter(context.Background(), cmd.log, &promexp.ExporterConfig{
			Port:     cmd.cfg.TelemetryPort,
			Title:    build.EngineName + " self test",
			Gatherer: reg,
		})
		if err != nil {
			c.Join()
			return err
		}
		defer stop()
	}

	result, runErr := cmd.run(c, cudaLib, size)

	var mfs []*dto.MetricFamily
	if cmd.Metrics {
		gathered, err := reg.Gather()
		if err != nil {
			cmd.log.Errorf("gathering metrics: %s", err)
		}
		mfs = gathered
	}

	if errors.Cause(runErr) == errTimedOut {
		// Outstanding operations would keep Join blocked.
		c.Close()
		return runErr
	}
	if err := c.Join(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	if cmd.jsonOutputEnabled() {
		return cmd.outputJSON(cmd.out, result)
	}

	fmt.Fprint(cmd.out, formatSelfTest(result))
	if len(mfs) > 0 {
		fmt.Fprintln(cmd.out)
		enc := expfmt.NewEncoder(cmd.out, expfmt.FmtText)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				return errors.Wrap(err, "encoding metrics")
			}
		}
	}
	if result.Failed > 0 {
		return errors.Errorf("%d of %d operations failed", result.Failed, result.Completed+result.Failed)
	}
	return nil
}

var errTimedOut = errors.New("timed out")

type opResult struct {
	desc string
	err  error
}

func (cmd *selfTestCmd) run(c *cudagdr.Context, cudaLib cuda.Lib, size uint64) (*selfTestResult, error) {
	ch, err := c.CreateChannel(nil, cudagdr.EndpointConnect)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	if err := ch.Connect(ch.LocalSetup()); err != nil {
		return nil, err
	}

	numGPUs := int(cmd.Adapters)
	numOps := 2 * int(cmd.Pairs)
	results := make(chan opResult, numOps)
	complete := func(desc string) cudagdr.Callback {
		return func(err error) {
			results <- opResult{desc: desc, err: err}
		}
	}

	start := time.Now()
	for i := 0; i < int(cmd.Pairs); i++ {
		gpu := i % numGPUs
		base := selfTestBase + uintptr(2*i)*uintptr(size)
		sendBuf := cuda.Buffer{Ptr: base, Length: size, DeviceIdx: gpu}
		recvBuf := cuda.Buffer{Ptr: base + uintptr(size), Length: size, DeviceIdx: gpu}

		ev, err := cudaLib.RecordEvent(gpu, 0)
		if err != nil {
			return nil, err
		}
		ch.Recv(recvBuf, complete(fmt.Sprintf("recv %d", i)))
		ch.Send(sendBuf, ev, complete(fmt.Sprintf("send %d", i)))
	}

	result := &selfTestResult{
		Adapters: cmd.Adapters,
		Pairs:    cmd.Pairs,
	}
	timeout := time.After(cmd.Timeout)
	for n := 0; n < numOps; n++ {
		select {
		case r := <-results:
			if r.err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", r.desc, r.err))
				continue
			}
			result.Completed++
			result.Bytes += size
		case <-timeout:
			return nil, errors.Wrapf(errTimedOut, "after %s, %d of %d operations done",
				cmd.Timeout, n, numOps)
		}
	}
	result.Elapsed = time.Since(start)
	cmd.log.Debugf("self test: %d operations in %s", numOps, result.Elapsed)

	return result, nil
}

func formatSelfTest(r *selfTestResult) string {
	rate := "-"
	if secs := r.Elapsed.Seconds(); secs > 0 {
		rate = humanize.IBytes(uint64(float64(r.Bytes)/secs)) + "/s"
	}

	return txtfmt.FormatEntity("Self Test", []txtfmt.Attr{
		{Name: "Adapters", Value: humanize.Comma(int64(r.Adapters))},
		{Name: "Pairs", Value: humanize.Comma(int64(r.Pairs))},
		{Name: "Completed", Value: humanize.Comma(int64(r.Completed))},
		{Name: "Failed", Value: humanize.Comma(int64(r.Failed))},
		{Name: "Transferred", Value: humanize.IBytes(r.Bytes)},
		{Name: "Elapsed", Value: r.Elapsed.Round(time.Microsecond).String()},
		{Name: "Rate", Value: rate},
	})
}
