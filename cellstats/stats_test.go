// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellstats_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hrissan/cellhttp/cellstats"
)

func TestPrometheusCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := cellstats.NewPrometheus(reg)
	if err != nil {
		t.Fatal(err)
	}
	p.NetworkRoundTrip("attach", time.Millisecond, nil)
	p.NetworkRoundTrip("attach", time.Millisecond, errors.New("no signal"))
	p.ClientCreated("a")
	p.ClientCreated("b")
	p.ClientDeleted("a")
	p.BytesReceived("b", 10)
	p.BytesReceived("b", 5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	series := map[string][]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				series[mf.GetName()] = append(series[mf.GetName()], m.GetGauge().GetValue())
			case m.GetCounter() != nil:
				series[mf.GetName()] = append(series[mf.GetName()], m.GetCounter().GetValue())
			}
		}
	}
	if got := series["cellhttp_clients"]; len(got) != 1 || got[0] != 1 {
		t.Errorf("clients gauge = %v, want [1]", got)
	}
	if got := series["cellhttp_network_round_trips_total"]; len(got) != 2 {
		t.Errorf("expected ok and error series, got %v", got)
	}
	if got := series["cellhttp_bytes_total"]; len(got) != 1 || got[0] != 15 {
		t.Errorf("bytes = %v, want [15]", got)
	}
	if _, err := cellstats.NewPrometheus(reg); err == nil {
		t.Errorf("registering twice must fail")
	}
}

func TestStatsLogRespectsLevel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := cellstats.NewStatsLog(zap.New(core))
	s.SetLevel(-1)
	s.EventRejected("recv", errors.New("x"))
	s.ReceiveQueueOverflow("c", 8)
	if logs.Len() != 1 {
		t.Fatalf("only fatal overflow must be logged when silenced, got %d entries", logs.Len())
	}
	if logs.All()[0].Level != zap.ErrorLevel {
		t.Errorf("overflow must be logged at error level")
	}
}

func TestTeeForwards(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := cellstats.Tee(cellstats.Nop(), cellstats.NewStatsLogVerbose(zap.New(core)))
	s.StateChanged("c", "disconnected", "connecting")
	s.BytesSent("c", 3)
	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
}
