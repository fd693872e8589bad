package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/position"
	"patrol-tracker/internal/track"
)

func TestObserverUpdatesCollector(t *testing.T) {
	c := NewCollector(2*time.Second, 100)
	obs := c.Observer()

	obs.SessionStarted(patrol.Status{State: patrol.Recording})
	if got := testutil.ToFloat64(c.Recording); got != 1 {
		t.Fatalf("recording gauge %v", got)
	}

	obs.FixObserved("s", track.Fix{Accuracy: 150})
	obs.FixRejected("s", track.Fix{Accuracy: 150}, track.LowAccuracy)
	obs.FixRejected("s", track.Fix{Accuracy: 5}, track.TooSoon)
	obs.FixRejected("s", track.Fix{Accuracy: 5}, track.TooSoon)
	p := track.TrackPoint{}
	obs.PointAccepted("s", p, []track.TrackPoint{p, p}, 42)
	obs.SourceFailed("s", fmt.Errorf("%w: gps", position.ErrTimeout))

	if got := testutil.ToFloat64(c.ObservedAccuracy); got != 150 {
		t.Fatalf("observed accuracy %v", got)
	}
	if got := testutil.ToFloat64(c.FixesRejected.WithLabelValues("too_soon")); got != 2 {
		t.Fatalf("too_soon rejections %v", got)
	}
	if got := testutil.ToFloat64(c.FixesRejected.WithLabelValues("low_accuracy")); got != 1 {
		t.Fatalf("low_accuracy rejections %v", got)
	}
	if testutil.ToFloat64(c.PointCount) != 2 || testutil.ToFloat64(c.DistanceMeters) != 42 {
		t.Fatalf("track gauges not updated")
	}
	if got := testutil.ToFloat64(c.SourceFailures.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeout failures %v", got)
	}

	obs.SessionDiscarded("s", fmt.Errorf("%w: 2 of 3", patrol.ErrInsufficientMovement))
	if testutil.ToFloat64(c.Recording) != 0 {
		t.Fatalf("recording gauge not cleared")
	}
	if got := testutil.ToFloat64(c.Sessions.WithLabelValues("insufficient_movement")); got != 1 {
		t.Fatalf("insufficient_movement sessions %v", got)
	}
}

func TestUnknownAccuracyObserved(t *testing.T) {
	c := NewCollector(time.Second, 100)
	c.Observer().FixObserved("s", track.Fix{})
	if got := testutil.ToFloat64(c.ObservedAccuracy); got != track.UnknownAccuracy {
		t.Fatalf("observed accuracy %v", got)
	}
}

func TestSessionOutcome(t *testing.T) {
	cases := map[error]string{
		nil:                            "saved",
		patrol.ErrEmptyTrajectory:      "empty_trajectory",
		patrol.ErrInsufficientMovement: "insufficient_movement",
		errors.New("disk full"):        "discarded",
	}
	for err, want := range cases {
		if got := SessionOutcome(err); got != want {
			t.Errorf("SessionOutcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestObserveSaveCountsSessionOnce(t *testing.T) {
	c := NewCollector(time.Second, 100)
	c.ObserveSave(errors.New("connection refused"))
	c.ObserveSave(errors.New("connection refused"))
	c.ObserveSave(nil)

	if got := testutil.ToFloat64(c.StoreErrors); got != 2 {
		t.Fatalf("store errors %v", got)
	}
	if got := testutil.ToFloat64(c.Sessions.WithLabelValues("saved")); got != 1 {
		t.Fatalf("saved sessions %v", got)
	}
	if n := testutil.CollectAndCount(c.Sessions); n != 1 {
		t.Fatalf("a failed save must not add a session outcome, got %d series", n)
	}
}

func TestInstrumentedSource(t *testing.T) {
	c := NewCollector(time.Second, 100)
	calls := 0
	src := c.Source(position.SourceFunc(func(context.Context) (track.Fix, error) {
		calls++
		return track.Fix{Accuracy: 3}, nil
	}))
	for i := 0; i < 3; i++ {
		if _, err := src.RequestFix(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 || testutil.ToFloat64(c.FixesRequested) != 3 {
		t.Fatalf("requests not counted: calls=%d", calls)
	}
	if n := testutil.CollectAndCount(c.FixRequestDuration); n != 1 {
		t.Fatalf("duration histogram not collected: %d", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(2*time.Second, 100)
	c.BusConnected.WithLabelValues("nats").Set(1)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"patrol_poll_interval_seconds 2", "patrol_max_accuracy_meters 100", `patrol_bus_connected{transport="nats"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
