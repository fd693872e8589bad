package track

import "patrol-tracker/internal/geo"

// Trajectory is the append-only point sequence of one session with running
// totals. It is not safe for concurrent use; the recorder owns it.
type Trajectory struct {
	points   []TrackPoint
	distance float64
}

func NewTrajectory() *Trajectory { return &Trajectory{} }

func (t *Trajectory) Append(p TrackPoint) {
	if n := len(t.points); n > 0 {
		t.distance += geo.Distance(t.points[n-1].Coordinate, p.Coordinate)
	}
	t.points = append(t.points, p)
}

func (t *Trajectory) Len() int { return len(t.points) }

// Distance is the sum of consecutive point distances in meters.
func (t *Trajectory) Distance() float64 { return t.distance }

func (t *Trajectory) Last() (TrackPoint, bool) {
	if len(t.points) == 0 {
		return TrackPoint{}, false
	}
	return t.points[len(t.points)-1], true
}

// Snapshot returns a copy of the points in acceptance order.
func (t *Trajectory) Snapshot() []TrackPoint {
	out := make([]TrackPoint, len(t.points))
	copy(out, t.points)
	return out
}

// Offer evaluates fix against the trajectory's last point and appends it
// when accepted.
func (t *Trajectory) Offer(f Filter, fix Fix) Reason {
	var last *TrackPoint
	if p, ok := t.Last(); ok {
		last = &p
	}
	reason := f.Evaluate(fix, last)
	if reason == Accepted {
		t.Append(TrackPoint{Fix: fix})
	}
	return reason
}

// Heading is the bearing in degrees of the last segment of points, 0 with
// fewer than two points.
func Heading(points []TrackPoint) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	return geo.Bearing(points[n-2].Coordinate, points[n-1].Coordinate)
}
