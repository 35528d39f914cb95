package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of successful starts by outcome (launched, adopted, foreground).",
		}, []string{"port", "outcome"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of stop requests by outcome (stopped, killed, noop, failed).",
		}, []string{"port", "outcome"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "instance",
			Name:      "launch_failures_total",
			Help:      "Number of failed starts by reason.",
		}, []string{"port", "reason"},
	)
	orphansTerminated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "instance",
			Name:      "orphans_terminated_total",
			Help:      "Number of unregistered instances terminated by the orphan sweep.",
		},
	)
	staleMarkers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appvisor",
			Subsystem: "registry",
			Name:      "stale_markers_total",
			Help:      "Number of markers purged because their pid was dead.",
		}, []string{"port"},
	)
	startupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "appvisor",
			Subsystem: "instance",
			Name:      "startup_seconds",
			Help:      "Time from launch until the port accepted connections.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"port"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appvisor",
			Subsystem: "instance",
			Name:      "current_state",
			Help:      "Last observed state per port (1 = active state, 0 = inactive).",
		}, []string{"port", "state"},
	)
)

// States reported through SetCurrentState.
var States = []string{"unmanaged", "running", "stale", "orphaned"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{instanceStarts, instanceStops, launchFailures, orphansTerminated, staleMarkers, startupDuration, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile dumps the default gatherer to path in the text exposition
// format, for node_exporter's textfile collector. Short-lived CLI runs use
// this since nothing scrapes them.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(port int, outcome string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(strconv.Itoa(port), outcome).Inc()
	}
}

func IncStop(port int, outcome string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(strconv.Itoa(port), outcome).Inc()
	}
}

func IncLaunchFailure(port int, reason string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(strconv.Itoa(port), reason).Inc()
	}
}

func IncOrphan() {
	if regOK.Load() {
		orphansTerminated.Inc()
	}
}

func IncStale(port int) {
	if regOK.Load() {
		staleMarkers.WithLabelValues(strconv.Itoa(port)).Inc()
	}
}

func ObserveStartup(port int, seconds float64) {
	if regOK.Load() {
		startupDuration.WithLabelValues(strconv.Itoa(port)).Observe(seconds)
	}
}

// SetCurrentState marks state as the active one for port.
func SetCurrentState(port int, state string) {
	if regOK.Load() {
		p := strconv.Itoa(port)
		for _, s := range States {
			var value float64
			if s == state {
				value = 1
			}
			currentStates.WithLabelValues(p, s).Set(value)
		}
	}
}
