package track

import (
	"time"

	"patrol-tracker/internal/geo"
)

// UnknownAccuracy is assumed for fixes whose backend reported no accuracy.
const UnknownAccuracy = 999.0

// Fix is one raw positioning reading.
type Fix struct {
	geo.Coordinate
	Accuracy   float64   `json:"accuracy"`  // meters, 1-sigma; <= 0 if not reported
	CapturedAt time.Time `json:"timestamp"` // device clock
}

// EffectiveAccuracy returns the accuracy used for gating.
func (f Fix) EffectiveAccuracy() float64 {
	if f.Accuracy <= 0 {
		return UnknownAccuracy
	}
	return f.Accuracy
}

// TrackPoint is a fix that passed the filter and belongs to a trajectory.
type TrackPoint struct {
	Fix
}

// Grade buckets an accuracy value the way the live display does.
func Grade(accuracy float64) string {
	switch {
	case accuracy <= 0:
		return "unknown"
	case accuracy < 30:
		return "excellent"
	case accuracy < 100:
		return "good"
	default:
		return "poor"
	}
}
