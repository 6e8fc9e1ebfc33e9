package metrics

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaychat/internal/log"
)

var (
	// PrivateMetrics about the internal world (go process, everything below)
	PrivateMetrics = prometheus.NewRegistry()
	// ClientMetrics about the messaging client (send, receive, roster)
	ClientMetrics = prometheus.NewRegistry()
	// RelayMetrics about the relay surface (registrations, queues, http)
	RelayMetrics = prometheus.NewRegistry()

	// MessagesSent (Client) bundles handed to the transport
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Number of message bundles published",
	})

	// EnvelopesSealed (Client) per-recipient envelopes produced
	EnvelopesSealed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "envelopes_sealed_total",
		Help: "Number of per-recipient envelopes encrypted",
	})

	// SendFailures (Client) sends that published nothing
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "send_failures_total",
		Help: "Number of sends that failed before or at publish",
	}, []string{"reason"})

	// SealLatency (Client) time spent encrypting one bundle
	SealLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "seal_duration_seconds",
		Help:    "Time taken to seal a bundle for every recipient",
		Buckets: prometheus.DefBuckets,
	})

	// DeliveriesReceived (Client) inbound envelopes by outcome
	DeliveriesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deliveries_received_total",
		Help: "Number of inbound envelopes, by outcome",
	}, []string{"result"})

	// RosterSize (Client) entries in the current roster snapshot
	RosterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roster_size",
		Help: "Number of participants in the current roster snapshot",
	})

	// RosterRefreshes (Client) directory roster fetches by result
	RosterRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_refreshes_total",
		Help: "Number of roster refreshes, by result",
	}, []string{"result"})

	// RelayRegistrations (Relay) accepted key registrations
	RelayRegistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_registrations_total",
		Help: "Number of public keys registered",
	})

	// RelayBundles (Relay) bundles accepted
	RelayBundles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_bundles_total",
		Help: "Number of message bundles accepted",
	})

	// RelayEnvelopes (Relay) envelopes by outcome (queued, skipped)
	RelayEnvelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_envelopes_total",
		Help: "Number of envelopes routed, by outcome",
	}, []string{"outcome"})

	// RelayQueueDepth (Relay) deliveries waiting across all queues
	RelayQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Number of deliveries waiting to be fetched",
	})

	// HTTPCallCounter (Relay) how many http requests
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_call_counter",
		Help: "Number of HTTP calls received",
	}, []string{"code", "method"})
	// HTTPLatency (Relay) how long http request handling takes
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "http_response_duration",
		Help:        "histogram of request latencies",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: prometheus.Labels{"handler": "http"},
	}, []string{"method"})
	// HTTPInFlight (Relay) how many http requests exist
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight",
		Help: "A gauge of requests currently being served.",
	})
)

var metricsBound sync.Once

// Bind registers every collector with its registries. It is safe to call
// more than once.
func Bind(l log.Logger) {
	metricsBound.Do(func() { bindMetrics(l) })
}

func bindMetrics(l log.Logger) {
	if err := PrivateMetrics.Register(collectors.NewGoCollector()); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "goCollector", "err", err)
		return
	}
	if err := PrivateMetrics.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		l.Errorw("error in bindMetrics", "metrics", "processCollector", "err", err)
		return
	}

	client := []prometheus.Collector{
		MessagesSent,
		EnvelopesSealed,
		SendFailures,
		SealLatency,
		DeliveriesReceived,
		RosterSize,
		RosterRefreshes,
	}
	for _, c := range client {
		if err := ClientMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "client", "err", err)
			return
		}
		if err := PrivateMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "client", "err", err)
			return
		}
	}

	relay := []prometheus.Collector{
		RelayRegistrations,
		RelayBundles,
		RelayEnvelopes,
		RelayQueueDepth,
		HTTPCallCounter,
		HTTPLatency,
		HTTPInFlight,
	}
	for _, c := range relay {
		if err := RelayMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "relay", "err", err)
			return
		}
		if err := PrivateMetrics.Register(c); err != nil {
			l.Errorw("error in bindMetrics", "metrics", "relay", "err", err)
			return
		}
	}
}

// Handler serves the given registry in the prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// InstrumentHandler wraps h with the HTTP call, latency and in-flight
// collectors.
func InstrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(HTTPInFlight,
		promhttp.InstrumentHandlerCounter(HTTPCallCounter,
			promhttp.InstrumentHandlerDuration(HTTPLatency, h)))
}

// Start serves PrivateMetrics on metricsBind. A bare port binds to
// localhost. It returns nil when the listener cannot be opened.
func Start(logger log.Logger, metricsBind string) net.Listener {
	logger.Infow("metrics starting", "desired_port", metricsBind)
	Bind(logger)

	if !strings.Contains(metricsBind, ":") {
		metricsBind = "127.0.0.1:" + metricsBind
	}
	//nolint:noctx
	l, err := net.Listen("tcp", metricsBind)
	if err != nil {
		logger.Warnw("", "metrics", "listen failed", "err", err)
		return nil
	}
	logger.Infow("metric listener started", "addr", l.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(PrivateMetrics))

	s := http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: 3 * time.Second, Handler: mux}
	go func() {
		logger.Warnw("", "metrics", "listen finished", "err", s.Serve(l))
	}()
	return l
}
