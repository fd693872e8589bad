package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/position"
	"patrol-tracker/internal/track"
)

type Collector struct {
	reg *prometheus.Registry

	Recording        prometheus.Gauge
	PointCount       prometheus.Gauge
	DistanceMeters   prometheus.Gauge
	ObservedAccuracy prometheus.Gauge

	FixesRequested prometheus.Counter
	FixesAccepted  prometheus.Counter
	FixesRejected  *prometheus.CounterVec // reason label
	SourceFailures *prometheus.CounterVec // kind label
	Sessions       *prometheus.CounterVec // outcome label: saved|empty_trajectory|insufficient_movement|discarded
	StoreErrors    prometheus.Counter

	BusPublished  *prometheus.CounterVec // transport label
	BusPublishErr *prometheus.CounterVec
	BusConnected  *prometheus.GaugeVec

	FixRequestDuration prometheus.Histogram
	TripDistance       prometheus.Histogram
	PublishDuration    *prometheus.HistogramVec

	PollInterval prometheus.Gauge // seconds
	MaxAccuracy  prometheus.Gauge // meters
}

func NewCollector(pollInterval time.Duration, maxAccuracy float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_recording",
			Help: "1 while a patrol session is recording, 0 otherwise.",
		}),
		PointCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_track_points",
			Help: "Accepted points in the active trajectory.",
		}),
		DistanceMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_track_distance_meters",
			Help: "Distance covered by the active trajectory.",
		}),
		ObservedAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_observed_accuracy_meters",
			Help: "Accuracy of the most recent fix, accepted or not.",
		}),
		FixesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_fix_requests_total",
			Help: "Total position requests issued to the source.",
		}),
		FixesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_fixes_accepted_total",
			Help: "Total fixes appended to a trajectory.",
		}),
		FixesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_fixes_rejected_total",
			Help: "Total fixes rejected by the filter.",
		}, []string{"reason"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_source_failures_total",
			Help: "Total failed position requests.",
		}, []string{"kind"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_sessions_total",
			Help: "Finished sessions by outcome.",
		}, []string{"outcome"}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patrol_store_errors_total",
			Help: "Total failed attempts to save a patrol record.",
		}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_bus_published_total",
			Help: "Total bus messages published.",
		}, []string{"transport"}),
		BusPublishErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patrol_bus_publish_errors_total",
			Help: "Total bus publish errors.",
		}, []string{"transport"}),
		BusConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patrol_bus_connected",
			Help: "1 if the bus connection is established, 0 otherwise.",
		}, []string{"transport"}),
		FixRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patrol_fix_request_duration_seconds",
			Help:    "Time from position request to fix or failure.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TripDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patrol_trip_distance_meters",
			Help:    "Distance of finalized patrols.",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patrol_publish_duration_seconds",
			Help:    "Duration to publish a bus message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"transport"}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_poll_interval_seconds",
			Help: "Position request interval in seconds.",
		}),
		MaxAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patrol_max_accuracy_meters",
			Help: "Accuracy gate of the fix filter.",
		}),
	}

	reg.MustRegister(
		c.Recording, c.PointCount, c.DistanceMeters, c.ObservedAccuracy,
		c.FixesRequested, c.FixesAccepted, c.FixesRejected, c.SourceFailures,
		c.Sessions, c.StoreErrors,
		c.BusPublished, c.BusPublishErr, c.BusConnected,
		c.FixRequestDuration, c.TripDistance, c.PublishDuration,
		c.PollInterval, c.MaxAccuracy,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.MaxAccuracy.Set(maxAccuracy)

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Source wraps src so every request is counted and timed.
func (c *Collector) Source(src position.Source) position.Source {
	return position.SourceFunc(func(ctx context.Context) (track.Fix, error) {
		c.FixesRequested.Inc()
		start := time.Now()
		fix, err := src.RequestFix(ctx)
		c.FixRequestDuration.Observe(time.Since(start).Seconds())
		return fix, err
	})
}

// SessionOutcome labels the result of finishing a session.
func SessionOutcome(err error) string {
	switch {
	case err == nil:
		return "saved"
	case errors.Is(err, patrol.ErrEmptyTrajectory):
		return "empty_trajectory"
	case errors.Is(err, patrol.ErrInsufficientMovement):
		return "insufficient_movement"
	default:
		return "discarded"
	}
}

// ObserveSave records one attempt to persist a finished patrol. A failed
// attempt only counts as a store error; the session is counted once, when a
// save (or a later retry) succeeds.
func (c *Collector) ObserveSave(err error) {
	if err != nil {
		c.StoreErrors.Inc()
		return
	}
	c.Sessions.WithLabelValues(SessionOutcome(nil)).Inc()
}

// Observer returns a patrol.Observer that feeds the collector.
func (c *Collector) Observer() patrol.Observer { return recorderMetrics{c} }

type recorderMetrics struct{ c *Collector }

func (m recorderMetrics) SessionStarted(patrol.Status) {
	m.c.Recording.Set(1)
	m.c.PointCount.Set(0)
	m.c.DistanceMeters.Set(0)
}

func (m recorderMetrics) FixObserved(_ string, fix track.Fix) {
	m.c.ObservedAccuracy.Set(fix.EffectiveAccuracy())
}

func (m recorderMetrics) FixRejected(_ string, _ track.Fix, reason track.Reason) {
	m.c.FixesRejected.WithLabelValues(reason.String()).Inc()
}

func (m recorderMetrics) PointAccepted(_ string, _ track.TrackPoint, snapshot []track.TrackPoint, distance float64) {
	m.c.FixesAccepted.Inc()
	m.c.PointCount.Set(float64(len(snapshot)))
	m.c.DistanceMeters.Set(distance)
}

func (m recorderMetrics) SourceFailed(_ string, err error) {
	m.c.SourceFailures.WithLabelValues(position.Kind(err)).Inc()
}

func (m recorderMetrics) Tick(patrol.Status) {}

// SessionFinished only clears the live gauges; the "saved" outcome is
// counted once the record is persisted.
func (m recorderMetrics) SessionFinished(rec patrol.TripRecord) {
	m.c.Recording.Set(0)
	m.c.TripDistance.Observe(rec.TotalDistanceMeters)
}

func (m recorderMetrics) SessionDiscarded(_ string, err error) {
	m.c.Recording.Set(0)
	m.c.PointCount.Set(0)
	m.c.DistanceMeters.Set(0)
	m.c.Sessions.WithLabelValues(SessionOutcome(err)).Inc()
}
