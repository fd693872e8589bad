package patrol

import (
	"log"

	"patrol-tracker/internal/position"
	"patrol-tracker/internal/track"
)

// Observer receives recorder events. Calls are made outside the recorder
// lock and must not block for long; they never affect control flow.
type Observer interface {
	SessionStarted(st Status)
	// FixObserved is called for every fix before filtering, so displays can
	// show the live accuracy even when the fix is rejected.
	FixObserved(sessionID string, fix track.Fix)
	FixRejected(sessionID string, fix track.Fix, reason track.Reason)
	PointAccepted(sessionID string, p track.TrackPoint, snapshot []track.TrackPoint, distance float64)
	SourceFailed(sessionID string, err error)
	Tick(st Status)
	SessionFinished(rec TripRecord)
	SessionDiscarded(sessionID string, err error)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) SessionStarted(Status)                                               {}
func (NopObserver) FixObserved(string, track.Fix)                                       {}
func (NopObserver) FixRejected(string, track.Fix, track.Reason)                         {}
func (NopObserver) PointAccepted(string, track.TrackPoint, []track.TrackPoint, float64) {}
func (NopObserver) SourceFailed(string, error)                                          {}
func (NopObserver) Tick(Status)                                                         {}
func (NopObserver) SessionFinished(TripRecord)                                          {}
func (NopObserver) SessionDiscarded(string, error)                                      {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) SessionStarted(st Status) {
	for _, x := range o {
		x.SessionStarted(st)
	}
}

func (o Observers) FixObserved(id string, fix track.Fix) {
	for _, x := range o {
		x.FixObserved(id, fix)
	}
}

func (o Observers) FixRejected(id string, fix track.Fix, reason track.Reason) {
	for _, x := range o {
		x.FixRejected(id, fix, reason)
	}
}

func (o Observers) PointAccepted(id string, p track.TrackPoint, snapshot []track.TrackPoint, distance float64) {
	for _, x := range o {
		x.PointAccepted(id, p, snapshot, distance)
	}
}

func (o Observers) SourceFailed(id string, err error) {
	for _, x := range o {
		x.SourceFailed(id, err)
	}
}

func (o Observers) Tick(st Status) {
	for _, x := range o {
		x.Tick(st)
	}
}

func (o Observers) SessionFinished(rec TripRecord) {
	for _, x := range o {
		x.SessionFinished(rec)
	}
}

func (o Observers) SessionDiscarded(id string, err error) {
	for _, x := range o {
		x.SessionDiscarded(id, err)
	}
}

// LogObserver writes recorder events to the standard logger. Rejections are
// only logged when Verbose is set; they arrive every poll on a noisy sensor.
type LogObserver struct {
	NopObserver
	Verbose bool
}

func (l LogObserver) SessionStarted(st Status) {
	log.Printf("patrol %s started at %s", st.SessionID, st.StartedAt.Format("15:04:05"))
}

func (l LogObserver) FixRejected(id string, fix track.Fix, reason track.Reason) {
	if !l.Verbose {
		return
	}
	log.Printf("patrol %s: fix skipped (%s), accuracy %.1fm", id, reason, fix.Accuracy)
}

func (l LogObserver) PointAccepted(id string, p track.TrackPoint, snapshot []track.TrackPoint, distance float64) {
	log.Printf("patrol %s: recorded point #%d, accuracy %.1fm, distance %.0fm", id, len(snapshot), p.Accuracy, distance)
}

func (l LogObserver) SourceFailed(id string, err error) {
	log.Printf("patrol %s: positioning failed (%s): %v", id, position.Kind(err), err)
}

func (l LogObserver) SessionFinished(rec TripRecord) {
	log.Printf("patrol %s finished: duration %s, %d points, %.0fm",
		rec.ID, FormatClock(rec.DurationSeconds), rec.PointCount(), rec.TotalDistanceMeters)
}

func (l LogObserver) SessionDiscarded(id string, err error) {
	log.Printf("patrol %s discarded: %v", id, err)
}
