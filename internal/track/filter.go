package track

import (
	"time"

	"patrol-tracker/internal/geo"
)

// Reason is the outcome of evaluating a fix.
type Reason int

const (
	Accepted Reason = iota
	InvalidCoordinate
	LowAccuracy
	TooSoon
	TooClose
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case InvalidCoordinate:
		return "invalid_coordinate"
	case LowAccuracy:
		return "low_accuracy"
	case TooSoon:
		return "too_soon"
	case TooClose:
		return "too_close"
	default:
		return "unknown"
	}
}

// MarshalText lets reasons travel as their label in JSON payloads.
func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// FilterConfig holds the acceptance thresholds.
type FilterConfig struct {
	MaxAccuracy     float64       // meters; worse fixes are rejected
	MinInterval     time.Duration // since the last accepted point
	MinDisplacement float64       // meters from the last accepted point
}

// DefaultFilterConfig matches the field client's behaviour.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxAccuracy:     100,
		MinInterval:     5 * time.Second,
		MinDisplacement: 2,
	}
}

// Filter decides whether fixes become track points. It holds no state; the
// last accepted point carries the last acceptance time.
type Filter struct {
	cfg FilterConfig
}

func NewFilter(cfg FilterConfig) Filter { return Filter{cfg: cfg} }

func (f Filter) Config() FilterConfig { return f.cfg }

// Evaluate runs the gates in order and returns the first failing one, or
// Accepted. last is nil until the first point has been accepted.
func (f Filter) Evaluate(fix Fix, last *TrackPoint) Reason {
	if !geo.Valid(fix.Coordinate) {
		return InvalidCoordinate
	}
	if fix.EffectiveAccuracy() > f.cfg.MaxAccuracy {
		return LowAccuracy
	}
	if last == nil {
		return Accepted
	}
	if fix.CapturedAt.Sub(last.CapturedAt) < f.cfg.MinInterval {
		return TooSoon
	}
	if geo.Distance(fix.Coordinate, last.Coordinate) < f.cfg.MinDisplacement {
		return TooClose
	}
	return Accepted
}
