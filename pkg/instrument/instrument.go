// Package instrument exposes Prometheus counters for links, packets and
// message delivery.
//
// Counters are package level and always live; Register attaches them to a
// registry and Serve exposes them over HTTP.
package instrument

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veil"

var (
	linksOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_opened_total",
			Help:      "Number of links opened, by role",
		},
		[]string{"role"},
	)
	linksClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_closed_total",
			Help:      "Number of links closed, by role",
		},
		[]string{"role"},
	)
	dialFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_failures_total",
			Help:      "Number of failed outbound dials",
		},
	)
	packetsIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Number of packets received, by type",
		},
		[]string{"type"},
	)
	packetsOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Number of packets sent, by type",
		},
		[]string{"type"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Number of inbound packets dropped, by reason",
		},
		[]string{"reason"},
	)
	flushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Number of physical flushes of buffered writes",
		},
	)
	heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Number of heartbeat pings sent",
		},
	)
	staleSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_sessions_total",
			Help:      "Number of accepted sessions closed for inactivity",
		},
	)
	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Number of identity checks, by result",
		},
		[]string{"result"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_status_total",
			Help:      "Number of message status changes, by status",
		},
		[]string{"status"},
	)

	collectors = []prometheus.Collector{
		linksOpened, linksClosed, dialFailures,
		packetsIn, packetsOut, packetsDropped,
		flushes, heartbeats, staleSessions,
		handshakes, deliveries,
	}
)

// Register attaches all counters to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Serve registers the counters on a fresh registry and serves it at
// /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) (net.Addr, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return ln.Addr(), nil
}

// LinkOpened counts a new link for role ("dialer" or "acceptor").
func LinkOpened(role string) {
	linksOpened.WithLabelValues(role).Inc()
}

// LinkClosed counts a closed link for role.
func LinkClosed(role string) {
	linksClosed.WithLabelValues(role).Inc()
}

// DialFailed counts a failed outbound dial.
func DialFailed() {
	dialFailures.Inc()
}

// PacketIn counts a received packet of the given type.
func PacketIn(typ string) {
	packetsIn.WithLabelValues(typ).Inc()
}

// PacketOut counts a sent packet of the given type.
func PacketOut(typ string) {
	packetsOut.WithLabelValues(typ).Inc()
}

// PacketDropped counts an inbound packet dropped for reason.
func PacketDropped(reason string) {
	packetsDropped.WithLabelValues(reason).Inc()
}

// Flushed counts a physical flush.
func Flushed() {
	flushes.Inc()
}

// Heartbeat counts a heartbeat ping.
func Heartbeat() {
	heartbeats.Inc()
}

// StaleSession counts a session closed by the watchdog.
func StaleSession() {
	staleSessions.Inc()
}

// Handshake counts an identity check result ("pinned", "verified", "rejected").
func Handshake(result string) {
	handshakes.WithLabelValues(result).Inc()
}

// MessageStatus counts a message status change.
func MessageStatus(status string) {
	deliveries.WithLabelValues(status).Inc()
}
