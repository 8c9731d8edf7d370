// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellstats"
)

// Metrics serves registry on /metrics until Shutdown
type Metrics struct {
	Registry *prometheus.Registry
	Stats    *cellstats.Prometheus

	srv *http.Server
	ln  net.Listener
}

// StartMetrics registers cellhttp and process collectors and starts serving on addr
func StartMetrics(addr string, log *zap.Logger) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	stats, err := cellstats.NewPrometheus(registry)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	m := &Metrics{
		Registry: registry,
		Stats:    stats,
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:       ln,
	}
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics serve failed", zap.Error(err))
		}
	}()
	log.Info("metrics enabled", zap.String("listen", ln.Addr().String()))
	return m, nil
}

func (m *Metrics) Addr() net.Addr { return m.ln.Addr() }

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
