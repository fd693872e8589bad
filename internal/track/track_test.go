package track

import (
	"math"
	"testing"
	"time"

	"patrol-tracker/internal/geo"
)

var t0 = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

func fixAt(lat, lon, acc float64, offset time.Duration) Fix {
	return Fix{Coordinate: geo.Coordinate{Lat: lat, Lon: lon}, Accuracy: acc, CapturedAt: t0.Add(offset)}
}

func TestFilterGateOrder(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	last := &TrackPoint{Fix: fixAt(39.9151, 116.4038, 10, 0)}

	cases := []struct {
		name string
		fix  Fix
		last *TrackPoint
		want Reason
	}{
		{"first fix accepted", fixAt(39.9151, 116.4038, 10, 0), nil, Accepted},
		{"first fix low accuracy", fixAt(39.9151, 116.4038, 150, 0), nil, LowAccuracy},
		{"unknown accuracy treated as poor", fixAt(39.9151, 116.4038, 0, 0), nil, LowAccuracy},
		{"out of range latitude", fixAt(91, 116.4038, 10, 0), nil, InvalidCoordinate},
		{"accuracy checked before timing", fixAt(39.9160, 116.4038, 150, time.Second), last, LowAccuracy},
		{"too soon even when far", fixAt(39.9160, 116.4038, 10, 3*time.Second), last, TooSoon},
		{"too close after interval", fixAt(39.91511, 116.4038, 10, 6*time.Second), last, TooClose},
		{"exact interval and far", fixAt(39.9152, 116.4040, 10, 5*time.Second), last, Accepted},
		{"boundary accuracy accepted", fixAt(39.9152, 116.4040, 100, 10*time.Second), last, Accepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.Evaluate(tc.fix, tc.last); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAccuracyGateAllConfigs(t *testing.T) {
	for _, max := range []float64{10, 50, 100, 500} {
		f := NewFilter(FilterConfig{MaxAccuracy: max, MinInterval: 0, MinDisplacement: 0})
		tr := NewTrajectory()
		for i := 0; i < 20; i++ {
			acc := max + 0.5 + float64(i)
			if r := tr.Offer(f, fixAt(39.9+float64(i)*0.001, 116.4, acc, time.Duration(i)*time.Minute)); r != LowAccuracy {
				t.Fatalf("max=%v acc=%v: got %s", max, acc, r)
			}
		}
		if tr.Len() != 0 {
			t.Fatalf("max=%v: %d points accepted", max, tr.Len())
		}
	}
}

func TestScenarioIntervalThenDisplacement(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	tr := NewTrajectory()

	got := []Reason{
		tr.Offer(f, fixAt(39.9151, 116.4038, 10, 0)),
		tr.Offer(f, fixAt(39.9151, 116.4039, 10, 3*time.Second)),
		tr.Offer(f, fixAt(39.9152, 116.4040, 10, 6*time.Second)),
	}
	want := []Reason{Accepted, TooSoon, Accepted}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fix %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if tr.Len() != 2 {
		t.Fatalf("expected 2 points, got %d", tr.Len())
	}
}

func TestRepeatedFixAcceptedOnce(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	tr := NewTrajectory()
	fix := fixAt(39.9151, 116.4038, 10, 0)
	tr.Offer(f, fix)
	if r := tr.Offer(f, fix); r == Accepted {
		t.Fatalf("duplicate fix accepted")
	}
	if tr.Len() != 1 {
		t.Fatalf("expected 1 point, got %d", tr.Len())
	}
}

func TestTrajectoryMonotonic(t *testing.T) {
	cfg := DefaultFilterConfig()
	f := NewFilter(cfg)
	tr := NewTrajectory()
	// Walk north with jittery spacing; some fixes are too close or too soon.
	lat := 39.9
	for i := 0; i < 200; i++ {
		step := float64(i%7) * 0.000006
		lat += step
		tr.Offer(f, fixAt(lat, 116.4, float64(5+i%120), time.Duration(i)*1500*time.Millisecond))
	}
	pts := tr.Snapshot()
	if len(pts) < 3 {
		t.Fatalf("expected a usable trajectory, got %d points", len(pts))
	}
	sum := 0.0
	for i := 1; i < len(pts); i++ {
		if pts[i].CapturedAt.Before(pts[i-1].CapturedAt) {
			t.Fatalf("timestamps decrease at %d", i)
		}
		if pts[i].CapturedAt.Sub(pts[i-1].CapturedAt) < cfg.MinInterval {
			t.Fatalf("interval violated at %d", i)
		}
		d := geo.Distance(pts[i-1].Coordinate, pts[i].Coordinate)
		if d < cfg.MinDisplacement {
			t.Fatalf("displacement %v below minimum at %d", d, i)
		}
		if pts[i].Accuracy > cfg.MaxAccuracy {
			t.Fatalf("accuracy %v accepted at %d", pts[i].Accuracy, i)
		}
		sum += d
	}
	if math.Abs(sum-tr.Distance()) > 1e-6 {
		t.Fatalf("running distance %v, recomputed %v", tr.Distance(), sum)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTrajectory()
	tr.Append(TrackPoint{Fix: fixAt(39.9151, 116.4038, 10, 0)})
	tr.Append(TrackPoint{Fix: fixAt(39.9152, 116.4040, 10, 6*time.Second)})

	snap := tr.Snapshot()
	snap[0].Lat = 0

	again := tr.Snapshot()
	if again[0].Lat != 39.9151 || len(again) != 2 {
		t.Fatalf("snapshot mutation leaked into trajectory: %+v", again)
	}
}

func TestTrajectoryDistanceSumsPairs(t *testing.T) {
	a := fixAt(39.9151, 116.4038, 10, 0)
	b := fixAt(39.9161, 116.4038, 10, 6*time.Second)
	c := fixAt(39.9161, 116.4058, 10, 12*time.Second)

	tr := NewTrajectory()
	if tr.Distance() != 0 || tr.Len() != 0 {
		t.Fatalf("empty trajectory not zero")
	}
	for _, f := range []Fix{a, b, c} {
		tr.Append(TrackPoint{Fix: f})
	}
	want := geo.Distance(a.Coordinate, b.Coordinate) + geo.Distance(b.Coordinate, c.Coordinate)
	if math.Abs(tr.Distance()-want) > 1e-3 {
		t.Fatalf("distance %v, want %v", tr.Distance(), want)
	}
	last, ok := tr.Last()
	if !ok || !last.CapturedAt.Equal(c.CapturedAt) {
		t.Fatalf("unexpected last point %+v", last)
	}
}

func TestGrade(t *testing.T) {
	cases := map[float64]string{0: "unknown", 5: "excellent", 29.9: "excellent", 30: "good", 99: "good", 100: "poor", 400: "poor"}
	for acc, want := range cases {
		if got := Grade(acc); got != want {
			t.Errorf("Grade(%v) = %q, want %q", acc, got, want)
		}
	}
}

func TestHeadingOfLastSegment(t *testing.T) {
	if h := Heading(nil); h != 0 {
		t.Fatalf("empty heading %v", h)
	}
	pts := []TrackPoint{
		{Fix: fixAt(39.9151, 116.4038, 10, 0)},
		{Fix: fixAt(39.9161, 116.4038, 10, 6*time.Second)},
		{Fix: fixAt(39.9161, 116.4058, 10, 12*time.Second)},
	}
	if h := Heading(pts[:1]); h != 0 {
		t.Fatalf("single point heading %v", h)
	}
	if h := Heading(pts[:2]); math.Abs(h) > 0.01 {
		t.Fatalf("northbound heading %v", h)
	}
	if h := Heading(pts); math.Abs(h-90) > 0.1 {
		t.Fatalf("eastbound heading %v", h)
	}
}
