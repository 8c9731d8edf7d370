// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cellhttp"

// Prometheus exports Stats as counters. Client ids are never used as labels,
// they are unbounded.
type Prometheus struct {
	roundTrips       *prometheus.CounterVec
	roundTripSeconds *prometheus.HistogramVec
	clients          prometheus.Gauge
	createFailures   *prometheus.CounterVec
	stateChanges     *prometheus.CounterVec
	rejectedEvents   *prometheus.CounterVec
	bytes            *prometheus.CounterVec
	queueOverflows   prometheus.Counter
	requestTimeouts  prometheus.Counter
	transportErrors  *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		roundTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_round_trips_total",
			Help:      "Network attach/detach round-trips issued.",
		}, []string{"op", "result"}),
		roundTripSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "network_round_trip_seconds",
			Help:      "Duration of network attach/detach round-trips.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"op"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients",
			Help:      "Clients currently allocated.",
		}),
		createFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_create_failures_total",
			Help:      "Client constructions rolled back, by failed step.",
		}, []string{"step"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Connection state transitions, by target state.",
		}, []string{"to"}),
		rejectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_events_total",
			Help:      "Transport events rejected by the event adapter.",
		}, []string{"event"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Payload bytes moved through clients.",
		}, []string{"direction"}),
		queueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_queue_overflows_total",
			Help:      "Fatal receive queue overflows.",
		}),
		requestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_timeouts_total",
			Help:      "Request descriptors expired by poll bookkeeping.",
		}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Errors reported by the connection transport.",
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{p.roundTrips, p.roundTripSeconds, p.clients, p.createFailures,
		p.stateChanges, p.rejectedEvents, p.bytes, p.queueOverflows, p.requestTimeouts, p.transportErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *Prometheus) NetworkRoundTrip(op string, d time.Duration, err error) {
	p.roundTrips.WithLabelValues(op, result(err)).Inc()
	p.roundTripSeconds.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) ClientCreated(string) { p.clients.Inc() }

func (p *Prometheus) ClientCreateFailed(step string, _ error) {
	p.createFailures.WithLabelValues(step).Inc()
}

func (p *Prometheus) ClientDeleted(string) { p.clients.Dec() }

func (p *Prometheus) StateChanged(_ string, _ string, to string) {
	p.stateChanges.WithLabelValues(to).Inc()
}

func (p *Prometheus) EventRejected(kind string, _ error) {
	p.rejectedEvents.WithLabelValues(kind).Inc()
}

func (p *Prometheus) BytesReceived(_ string, n int) {
	p.bytes.WithLabelValues("rx").Add(float64(n))
}

func (p *Prometheus) BytesSent(_ string, n int) {
	p.bytes.WithLabelValues("tx").Add(float64(n))
}

func (p *Prometheus) ReceiveQueueOverflow(string, int) { p.queueOverflows.Inc() }

func (p *Prometheus) RequestTimedOut(string, int) { p.requestTimeouts.Inc() }

func (p *Prometheus) TransportError(op string, _ error) {
	p.transportErrors.WithLabelValues(op).Inc()
}

// Clients exposes the gauge for tests and dashboards wiring
func (p *Prometheus) Clients() prometheus.Gauge { return p.clients }
