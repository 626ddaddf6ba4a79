//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package promexp_test

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/daos-stack/gdr/common/test"
	"github.com/daos-stack/gdr/lib/telemetry/promexp"
	"github.com/daos-stack/gdr/logging"
)

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestPromExp_StartExporter_BadConfig(t *testing.T) {
	reg := prometheus.NewRegistry()

	for name, tc := range map[string]struct {
		cfg    *promexp.ExporterConfig
		expErr error
	}{
		"nil": {
			expErr: errors.New("invalid exporter config: nil config"),
		},
		"zero port": {
			cfg:    &promexp.ExporterConfig{Gatherer: reg},
			expErr: errors.New("bad port 0"),
		},
		"port out of range": {
			cfg:    &promexp.ExporterConfig{Port: 70000, Gatherer: reg},
			expErr: errors.New("bad port 70000"),
		},
		"no gatherer": {
			cfg:    &promexp.ExporterConfig{Port: 9191},
			expErr: errors.New("nil gatherer"),
		},
	} {
		t.Run(name, func(t *testing.T) {
			log, buf := logging.NewTestLogger(t.Name())
			defer test.ShowBufferOnFailure(t, buf)

			stop, err := promexp.StartExporter(test.Context(t), log, tc.cfg)
			test.CmpErr(t, tc.expErr, err)
			if stop != nil {
				t.Fatal("expected nil stop function")
			}
		})
	}
}

func TestPromExp_StartExporter(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	reg := prometheus.NewRegistry()
	completions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gdr",
		Name:      "test_completions_total",
		Help:      "Completions seen by the test.",
	})
	reg.MustRegister(completions)
	completions.Add(3)

	port := freePort(t)
	stop, err := promexp.StartExporter(test.Context(t), log, &promexp.ExporterConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Title:    "gdr test exporter",
		Gatherer: reg,
	})
	if err != nil {
		t.Fatal(err)
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	if _, body := httpGet(t, base+"/"); !strings.Contains(body, "<h1>gdr test exporter</h1>") {
		t.Fatalf("index page missing title:\n%s", body)
	}
	if code, _ := httpGet(t, base+"/nope"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", code)
	}
	if _, body := httpGet(t, base+"/metrics"); !strings.Contains(body, "gdr_test_completions_total 3") {
		t.Fatalf("metrics page missing counter:\n%s", body)
	}

	// A second exporter on the same port must fail up front.
	_, err = promexp.StartExporter(test.Context(t), log, &promexp.ExporterConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Gatherer: reg,
	})
	test.CmpErr(t, errors.New("failed to listen"), err)

	stop()

	if _, err := http.Get(base + "/"); err == nil {
		t.Fatal("expected exporter to be stopped")
	}
}
