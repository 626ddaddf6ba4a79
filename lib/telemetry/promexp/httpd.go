//
// (C) Copyright 2021-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package promexp serves Prometheus metrics over HTTP.
package promexp

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daos-stack/gdr/logging"
)

const (
	metricsPath     = "/metrics"
	shutdownTimeout = time.Second
)

var indexPage = template.Must(template.New("index").Parse(`<html>
<head><title>{{.}}</title></head>
<body>
<h1>{{.}}</h1>
<p><a href="` + metricsPath + `">Metrics</a></p>
</body>
</html>
`))

// ExporterConfig defines the configuration for the Prometheus exporter.
type ExporterConfig struct {
	// Host to bind to. Empty binds all interfaces.
	Host     string
	Port     int
	Title    string
	Gatherer prometheus.Gatherer
}

func (cfg *ExporterConfig) validate() error {
	switch {
	case cfg == nil:
		return errors.New("nil config")
	case cfg.Port <= 0 || cfg.Port > 65535:
		return errors.Errorf("bad port %d", cfg.Port)
	case cfg.Gatherer == nil:
		return errors.New("nil gatherer")
	}
	return nil
}

func (cfg *ExporterConfig) address() string {
	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

func newMux(log logging.Logger, cfg *ExporterConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{
		ErrorLog: promLogger{log},
	}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if err := indexPage.Execute(w, cfg.Title); err != nil {
			log.Errorf("writing index page: %s", err)
		}
	})
	return mux
}

// promLogger adapts a Logger to the promhttp error log interface.
type promLogger struct {
	log logging.Logger
}

func (pl promLogger) Println(v ...interface{}) {
	pl.log.Error(fmt.Sprint(v...))
}

// StartExporter begins serving the configured gatherer and returns a
// function that stops the server. The listener is bound before returning
// so that a port conflict is reported to the caller.
func StartExporter(ctx context.Context, log logging.Logger, cfg *ExporterConfig) (func(), error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid exporter config")
	}

	addr := cfg.address()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           newMux(log, cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Infof("metrics exporter listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics exporter: %s", err)
		}
	}()

	return func() {
		log.Debug("stopping metrics exporter")

		// Not derived from ctx, which is usually canceled by now.
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(stopCtx); err != nil {
			log.Noticef("metrics exporter did not stop cleanly: %s", err)
		}
		<-done
	}, nil
}
