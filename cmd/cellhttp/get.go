// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hrissan/cellhttp"
	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
)

type fetchResult struct {
	URL    string
	Status string
	Body   int64
	Sent   uint32
	Recv   uint32
	Took   time.Duration
}

func newGetCommand(a *app) *cobra.Command {
	var output string
	var timeout time.Duration
	var quiet bool
	cmd := &cobra.Command{
		Use:   "get URL...",
		Short: "Fetch http:// or https:// URLs, bodies are written in argument order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			defer func() {
				if terr := a.teardown(cmd.Context()); err == nil {
					err = terr
				}
			}()
			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			results, bodies, err := a.getAll(ctx, args)
			for i := range bodies {
				if _, werr := bodies[i].WriteTo(out); werr != nil && err == nil {
					err = werr
				}
			}
			if !quiet {
				for _, r := range results {
					if r.URL == "" {
						continue
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s, body %s (sent %s, received %s) in %v\n",
						r.URL, r.Status, humanizeBytes(r.Body), humanizeBytes(int64(r.Sent)),
						humanizeBytes(int64(r.Recv)), r.Took.Round(time.Millisecond))
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "write bodies to file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall timeout, 0 disables")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print summary")
	return cmd
}

// getAll fetches targets in parallel, limited by transport connection count
func (a *app) getAll(ctx context.Context, targets []string) ([]fetchResult, []bytes.Buffer, error) {
	results := make([]fetchResult, len(targets))
	bodies := make([]bytes.Buffer, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Transport.MaxConnections)
	for i, target := range targets {
		g.Go(func() error {
			r, err := fetch(ctx, a.session, target, &bodies[i], a.log)
			if err != nil {
				return fmt.Errorf("%s: %w", target, err)
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()
	return results, bodies, err
}

func targetOf(raw string) (*url.URL, cellconn.Type, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, 0, "", err
	}
	var typ cellconn.Type
	var port string
	switch u.Scheme {
	case "http":
		typ, port = cellconn.TypeHTTP, "80"
	case "https":
		typ, port = cellconn.TypeHTTPS, "443"
	default:
		return nil, 0, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	return u, typ, net.JoinHostPort(u.Hostname(), port), nil
}

// fetch holds a session attachment for the whole exchange
func fetch(ctx context.Context, s *cellhttp.Session, raw string, w io.Writer, log *zap.Logger) (fetchResult, error) {
	start := time.Now()
	u, typ, address, err := targetOf(raw)
	if err != nil {
		return fetchResult{}, err
	}
	if err := s.Attach(ctx); err != nil {
		return fetchResult{}, err
	}
	defer func() {
		if err := s.Detach(context.WithoutCancel(ctx)); err != nil {
			log.Warn("detach failed", zap.Error(err))
		}
	}()

	conn, err := cellhttp.DialContext(ctx, s, typ, address)
	if err != nil {
		return fetchResult{}, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client := conn.Client()
	// closing wakes a blocked Read with EOF, conn.Close still deletes client later
	stop := context.AfterFunc(ctx, func() { _ = client.Close(context.Background()) })
	defer stop()
	log = log.With(zap.String("client", client.ID()), zap.String("url", u.Redacted()))
	slot, err := client.BeginRequest(cellcore.MethodGet, u.String())
	if err != nil {
		return fetchResult{}, err
	}
	defer func() { _ = client.EndRequest(slot) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fetchResult{}, err
	}
	req.Close = true
	req.Header.Set("User-Agent", "cellhttp")
	if err := req.Write(conn); err != nil {
		return fetchResult{}, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fetchResult{}, err
	}
	r := fetchResult{URL: raw, Status: resp.Status, Body: n, Took: time.Since(start)}
	if d, ok := client.Request(slot); ok {
		r.Sent, r.Recv = d.SentLen, d.RecvLen
	}
	log.Debug("fetched", zap.String("status", resp.Status), zap.Int64("body", n))
	return r, nil
}
