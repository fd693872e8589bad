package position

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"patrol-tracker/internal/geo"
	"patrol-tracker/internal/track"
)

const nmeaLog = `$GPGSV,1,1,01,01,40,083,46*44
$GPGGA,080000.00,3954.906,N,11624.228,E,1,08,0.9,50.0,M,0.0,M,,*6C
$GPRMC,080000.00,A,3954.906,N,11624.228,E,0.5,0.0,140325,,,A*5E
$GPRMC,080001.00,A,garbage*00
$GPGGA,080006.00,3954.912,N,11624.240,E,1,08,1.2,50.0,M,0.0,M,,*6B
$GPRMC,080006.00,A,3954.912,N,11624.240,E,0.5,0.0,140325,,,A*53
$GPGGA,080012.00,3954.912,N,11624.240,E,0,00,99.9,50.0,M,0.0,M,,*5D
$GPRMC,080012.00,V,3954.912,N,11624.240,E,0.0,0.0,140325,,,N*4B
$GPRMC,080018.00,A,3954.930,N,11624.260,E,0.5,0.0,140325,,,A*5E
`

func TestDecoderRMCWithHDOP(t *testing.T) {
	var d Decoder
	if _, st := d.Feed("$GPGGA,080000.00,3954.906,N,11624.228,E,1,08,0.9,50.0,M,0.0,M,,*6C"); st != Ignored {
		t.Fatalf("GGA status %v", st)
	}
	fix, st := d.Feed("$GPRMC,080000.00,A,3954.906,N,11624.228,E,0.5,0.0,140325,,,A*5E")
	if st != FixReady {
		t.Fatalf("RMC status %v", st)
	}
	if math.Abs(fix.Lat-39.9151) > 1e-6 || math.Abs(fix.Lon-116.4038) > 1e-6 {
		t.Fatalf("unexpected position %+v", fix.Coordinate)
	}
	if math.Abs(fix.Accuracy-0.9*UERE) > 1e-9 {
		t.Fatalf("accuracy %v", fix.Accuracy)
	}
	want := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	if !fix.CapturedAt.Equal(want) {
		t.Fatalf("captured at %v, want %v", fix.CapturedAt, want)
	}
}

func TestDecoderIgnoresNoise(t *testing.T) {
	var d Decoder
	for _, line := range []string{"", "hello", "$GPRMC,080001.00,A,garbage*00", "$GPGSV,1,1,01,01,40,083,46*44"} {
		if _, st := d.Feed(line); st != Ignored {
			t.Fatalf("line %q: status %v", line, st)
		}
	}
}

func TestReplaySource(t *testing.T) {
	src := NewReplaySource(strings.NewReader(nmeaLog))
	ctx := context.Background()

	first, err := src.RequestFix(ctx)
	if err != nil {
		t.Fatalf("first fix: %v", err)
	}
	second, err := src.RequestFix(ctx)
	if err != nil {
		t.Fatalf("second fix: %v", err)
	}
	if second.CapturedAt.Sub(first.CapturedAt) != 6*time.Second {
		t.Fatalf("unexpected spacing %v", second.CapturedAt.Sub(first.CapturedAt))
	}
	if math.Abs(second.Accuracy-1.2*UERE) > 1e-9 {
		t.Fatalf("second accuracy %v", second.Accuracy)
	}

	if _, err := src.RequestFix(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected no-fix tick, got %v", err)
	}

	third, err := src.RequestFix(ctx)
	if err != nil {
		t.Fatalf("third fix: %v", err)
	}
	if third.Accuracy != 0 {
		t.Fatalf("hdop should be reset by invalid GGA, got accuracy %v", third.Accuracy)
	}
	if third.EffectiveAccuracy() != track.UnknownAccuracy {
		t.Fatalf("effective accuracy %v", third.EffectiveAccuracy())
	}

	if _, err := src.RequestFix(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected end of log, got %v", err)
	}
}

func TestStreamSourceDeliversLatestOnce(t *testing.T) {
	pr, pw := io.Pipe()
	src := NewStreamSource(pr)
	defer src.Close()

	go func() {
		_, _ = io.WriteString(pw, "$GPGGA,080000.00,3954.906,N,11624.228,E,1,08,0.9,50.0,M,0.0,M,,*6C\n")
		_, _ = io.WriteString(pw, "$GPRMC,080000.00,A,3954.906,N,11624.228,E,0.5,0.0,140325,,,A*5E\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fix, err := src.RequestFix(ctx)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if math.Abs(fix.Lat-39.9151) > 1e-6 {
		t.Fatalf("unexpected fix %+v", fix)
	}

	// Nothing new has arrived, so the next request times out.
	short, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := src.RequestFix(short); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	_ = pw.Close()
	ctx3, cancel3 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel3()
	if _, err := src.RequestFix(ctx3); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable after stream end, got %v", err)
	}
}

func TestStreamSourceNoFix(t *testing.T) {
	pr, pw := io.Pipe()
	src := NewStreamSource(pr)
	defer src.Close()

	written := make(chan struct{})
	go func() {
		_, _ = io.WriteString(pw, "$GPRMC,080012.00,V,3954.912,N,11624.240,E,0.0,0.0,140325,,,N*4B\n")
		close(written)
	}()
	<-written
	// the pipe write returns once the reader consumed it; give the scanner a moment
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := src.RequestFix(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	_ = pw.Close()
}

func TestSimulatorWalksRoute(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	route := DefaultRoute()
	sim, err := NewSimulator(route, SimOptions{SpeedMps: 2, Accuracy: 8, Clock: clock})
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}
	if l := sim.Length(); math.Abs(l-1600) > 5 {
		t.Fatalf("route length %v", l)
	}

	ctx := context.Background()
	start, _ := sim.RequestFix(ctx)
	if geo.Distance(start.Coordinate, route[0]) > 1e-6 {
		t.Fatalf("simulator should start at route origin, got %+v", start.Coordinate)
	}
	now = now.Add(100 * time.Second)
	fix, _ := sim.RequestFix(ctx)
	if d := geo.Distance(route[0], fix.Coordinate); math.Abs(d-200) > 1 {
		t.Fatalf("expected ~200 m from origin, got %v", d)
	}
	if fix.Accuracy != 8 || !fix.CapturedAt.Equal(now) {
		t.Fatalf("unexpected fix %+v", fix)
	}

	now = now.Add(time.Hour)
	end, _ := sim.RequestFix(ctx)
	if geo.Distance(end.Coordinate, route[len(route)-1]) > 1e-6 {
		t.Fatalf("non-looping simulator should park at the end")
	}
}

func TestSimulatorJitterDeterministic(t *testing.T) {
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	opts := SimOptions{SpeedMps: 1.4, Accuracy: 5, Jitter: 3, Seed: 42, Loop: true, Clock: clock}
	a, _ := NewSimulator(DefaultRoute(), opts)
	b, _ := NewSimulator(DefaultRoute(), opts)
	fa, _ := a.RequestFix(context.Background())
	fb, _ := b.RequestFix(context.Background())
	if fa != fb {
		t.Fatalf("same seed produced different fixes: %+v vs %+v", fa, fb)
	}
	if fa.Accuracy < 5 {
		t.Fatalf("jitter should only widen accuracy, got %v", fa.Accuracy)
	}
}

func TestSourcesSeparateCancelFromTimeout(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()

	sim, _ := NewSimulator(DefaultRoute(), SimOptions{SpeedMps: 1})
	pr, pw := io.Pipe()
	defer pw.Close()
	stream := NewStreamSource(pr)
	defer stream.Close()

	sources := map[string]func() Source{
		"replay":    func() Source { return NewReplaySource(strings.NewReader(nmeaLog)) },
		"simulator": func() Source { return sim },
		"stream":    func() Source { return stream },
	}
	for name, mk := range sources {
		t.Run(name, func(t *testing.T) {
			_, err := mk().RequestFix(cancelled)
			if !errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
				t.Fatalf("cancelled request: got %v", err)
			}
			_, err = mk().RequestFix(expired)
			if !errors.Is(err, ErrTimeout) || Kind(err) != "timeout" {
				t.Fatalf("expired request: got %v", err)
			}
		})
	}
}

func TestLoadRoute(t *testing.T) {
	route, err := LoadRoute(strings.NewReader("# patrol line 3\n39.9151,116.4038\n 39.9161, 116.4038\n39.9161,116.4058\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(route) != 3 || route[2].Lon != 116.4058 {
		t.Fatalf("unexpected route %+v", route)
	}

	for _, bad := range []string{"39.9\n", "abc,116\n", "95,116\n"} {
		if _, err := LoadRoute(strings.NewReader(bad)); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestKind(t *testing.T) {
	cases := map[error]string{
		nil:                      "none",
		ErrPermissionDenied:      "permission_denied",
		ErrTimeout:               "timeout",
		context.DeadlineExceeded: "timeout",
		ErrUnavailable:           "unavailable",
		errors.New("boom"):       "other",
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
