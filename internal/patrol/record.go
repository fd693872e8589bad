package patrol

import (
	"errors"
	"fmt"
	"time"

	"patrol-tracker/internal/track"
)

var (
	ErrInvalidState         = errors.New("invalid recorder state")
	ErrEmptyTrajectory      = errors.New("no valid positions were recorded")
	ErrInsufficientMovement = errors.New("too few positions recorded to form a route")
)

// State is the recorder lifecycle state.
type State int

const (
	Idle State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// TripRecord is the finalized output of one session.
type TripRecord struct {
	ID                  string             `json:"id"`
	StartedAt           time.Time          `json:"startedAt"`
	EndedAt             time.Time          `json:"endedAt"`
	DurationSeconds     int64              `json:"durationSeconds"`
	TotalDistanceMeters float64            `json:"totalDistanceMeters"`
	Points              []track.TrackPoint `json:"points"`
}

func (r TripRecord) PointCount() int { return len(r.Points) }

// PatrolDate is the calendar date of StartedAt in loc, formatted YYYY-MM-DD.
func (r TripRecord) PatrolDate(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return r.StartedAt.In(loc).Format("2006-01-02")
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// finalize validates a stopped session and builds its record.
func finalize(s *session, endedAt time.Time, minPoints int) (TripRecord, error) {
	n := s.traj.Len()
	if n == 0 {
		return TripRecord{}, ErrEmptyTrajectory
	}
	if n < minPoints {
		return TripRecord{}, fmt.Errorf("%w: %d of %d", ErrInsufficientMovement, n, minPoints)
	}
	dur := int64(endedAt.Sub(s.startedAt) / time.Second)
	if dur < 0 {
		dur = 0
	}
	return TripRecord{
		ID:                  s.id,
		StartedAt:           s.startedAt,
		EndedAt:             endedAt,
		DurationSeconds:     dur,
		TotalDistanceMeters: s.traj.Distance(),
		Points:              s.traj.Snapshot(),
	}, nil
}
