// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellstats

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats receives notable events of every layer. Methods are called from
// application goroutines and from transport goroutines, implementations
// must be safe for concurrent use and must not block.
type Stats interface {
	// shared attach counter, op is "attach" or "detach"
	NetworkRoundTrip(op string, d time.Duration, err error)

	// client lifecycle
	ClientCreated(client string)
	ClientCreateFailed(step string, err error)
	ClientDeleted(client string)

	// state machine
	StateChanged(client string, from string, to string)

	// event adapter
	EventRejected(kind string, err error)
	BytesReceived(client string, n int)
	BytesSent(client string, n int)
	ReceiveQueueOverflow(client string, queued int)
	RequestTimedOut(client string, slot int)

	// transport layer, op is "start", "write", "close", "read"
	TransportError(op string, err error)
}

type nop struct{}

func (nop) NetworkRoundTrip(string, time.Duration, error) {}
func (nop) ClientCreated(string)                          {}
func (nop) ClientCreateFailed(string, error)              {}
func (nop) ClientDeleted(string)                          {}
func (nop) StateChanged(string, string, string)           {}
func (nop) EventRejected(string, error)                   {}
func (nop) BytesReceived(string, int)                     {}
func (nop) BytesSent(string, int)                         {}
func (nop) ReceiveQueueOverflow(string, int)              {}
func (nop) RequestTimedOut(string, int)                   {}
func (nop) TransportError(string, error)                  {}

func Nop() Stats { return nop{} }

type StatsLog struct {
	log          *zap.Logger
	level        atomic.Int32
	printTraffic atomic.Bool
	printStates  atomic.Bool
}

func NewStatsLog(log *zap.Logger) *StatsLog {
	return &StatsLog{log: log.Named("stats")}
}

func NewStatsLogVerbose(log *zap.Logger) *StatsLog {
	s := NewStatsLog(log)
	s.level.Store(1)
	s.printTraffic.Store(true)
	s.printStates.Store(true)
	return s
}

// SetLevel < 0 silences everything except fatal conditions
func (s *StatsLog) SetLevel(level int32) { s.level.Store(level) }

func (s *StatsLog) NetworkRoundTrip(op string, d time.Duration, err error) {
	if err != nil {
		s.log.Warn("network round-trip failed", zap.String("op", op), zap.Duration("took", d), zap.Error(err))
		return
	}
	if s.level.Load() < 0 {
		return
	}
	s.log.Info("network round-trip", zap.String("op", op), zap.Duration("took", d))
}

func (s *StatsLog) ClientCreated(client string) {
	if s.level.Load() < 1 {
		return
	}
	s.log.Debug("client created", zap.String("client", client))
}

func (s *StatsLog) ClientCreateFailed(step string, err error) {
	if s.level.Load() < 0 {
		return
	}
	s.log.Warn("client create failed", zap.String("step", step), zap.Error(err))
}

func (s *StatsLog) ClientDeleted(client string) {
	if s.level.Load() < 1 {
		return
	}
	s.log.Debug("client deleted", zap.String("client", client))
}

func (s *StatsLog) StateChanged(client string, from string, to string) {
	if !s.printStates.Load() {
		return
	}
	s.log.Debug("state changed", zap.String("client", client), zap.String("from", from), zap.String("to", to))
}

func (s *StatsLog) EventRejected(kind string, err error) {
	if s.level.Load() < 0 {
		return
	}
	s.log.Warn("event rejected", zap.String("event", kind), zap.Error(err))
}

func (s *StatsLog) BytesReceived(client string, n int) {
	if !s.printTraffic.Load() {
		return
	}
	s.log.Debug("received", zap.String("client", client), zap.Int("bytes", n))
}

func (s *StatsLog) BytesSent(client string, n int) {
	if !s.printTraffic.Load() {
		return
	}
	s.log.Debug("sent", zap.String("client", client), zap.Int("bytes", n))
}

func (s *StatsLog) ReceiveQueueOverflow(client string, queued int) {
	s.log.Error("receive queue overflow", zap.String("client", client), zap.Int("queued", queued))
}

func (s *StatsLog) RequestTimedOut(client string, slot int) {
	if s.level.Load() < 0 {
		return
	}
	s.log.Warn("request timed out", zap.String("client", client), zap.Int("slot", slot))
}

func (s *StatsLog) TransportError(op string, err error) {
	if s.level.Load() < 0 {
		return
	}
	s.log.Warn("transport error", zap.String("op", op), zap.Error(err))
}

type tee []Stats

// Tee forwards every call to all stats
func Tee(stats ...Stats) Stats { return tee(stats) }

func (t tee) NetworkRoundTrip(op string, d time.Duration, err error) {
	for _, s := range t {
		s.NetworkRoundTrip(op, d, err)
	}
}

func (t tee) ClientCreated(client string) {
	for _, s := range t {
		s.ClientCreated(client)
	}
}

func (t tee) ClientCreateFailed(step string, err error) {
	for _, s := range t {
		s.ClientCreateFailed(step, err)
	}
}

func (t tee) ClientDeleted(client string) {
	for _, s := range t {
		s.ClientDeleted(client)
	}
}

func (t tee) StateChanged(client string, from string, to string) {
	for _, s := range t {
		s.StateChanged(client, from, to)
	}
}

func (t tee) EventRejected(kind string, err error) {
	for _, s := range t {
		s.EventRejected(kind, err)
	}
}

func (t tee) BytesReceived(client string, n int) {
	for _, s := range t {
		s.BytesReceived(client, n)
	}
}

func (t tee) BytesSent(client string, n int) {
	for _, s := range t {
		s.BytesSent(client, n)
	}
}

func (t tee) ReceiveQueueOverflow(client string, queued int) {
	for _, s := range t {
		s.ReceiveQueueOverflow(client, queued)
	}
}

func (t tee) RequestTimedOut(client string, slot int) {
	for _, s := range t {
		s.RequestTimedOut(client, slot)
	}
}

func (t tee) TransportError(op string, err error) {
	for _, s := range t {
		s.TransportError(op, err)
	}
}
