// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// local counterpart for cellhttp get, serves /echo and /bytes/{size}
func main() {
	listen := pflag.String("listen", "127.0.0.1:11111", "listen address")
	delay := pflag.Duration("delay", 0, "delay before every response")
	pflag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /echo", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*delay)
		w.Header().Set("Content-Type", "text/plain")
		_ = r.Header.Write(w)
	})
	mux.HandleFunc("GET /bytes/{size}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*delay)
		size, err := humanize.ParseBytes(r.PathValue("size"))
		if err != nil || size > 1<<30 {
			http.Error(w, fmt.Sprintf("bad size %q", r.PathValue("size")), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatUint(size, 10))
		line := bytes.Repeat([]byte("0123456789abcdef"), 64)
		for left := size; left > 0; {
			n := min(left, uint64(len(line)))
			if _, err := w.Write(line[:n]); err != nil {
				return
			}
			left -= n
		}
	})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		mux.ServeHTTP(w, r)
		log.Info("served", zap.String("remote", r.RemoteAddr), zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})

	log.Info("listening", zap.String("addr", *listen))
	srv := &http.Server{Addr: *listen, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve failed", zap.Error(err))
	}
}
