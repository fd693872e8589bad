package publisher

import (
	"encoding/json"
	"log"
	"time"

	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/position"
	"patrol-tracker/internal/track"
)

// TrackMessage is the full trajectory after each accepted point.
type TrackMessage struct {
	OwnerID        string             `json:"ownerId"`
	SessionID      string             `json:"sessionId"`
	Timestamp      time.Time          `json:"timestamp"`
	PointCount     int                `json:"pointCount"`
	DistanceMeters float64            `json:"distanceMeters"`
	Heading        float64            `json:"heading"`
	Points         []track.TrackPoint `json:"points"`
}

// EventMessage reports session lifecycle and diagnostic events.
type EventMessage struct {
	OwnerID   string             `json:"ownerId"`
	SessionID string             `json:"sessionId"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Reason    string             `json:"reason,omitempty"`
	Accuracy  float64            `json:"accuracy,omitempty"`
	Error     string             `json:"error,omitempty"`
	Record    *patrol.TripRecord `json:"record,omitempty"`
}

const (
	EventStarted   = "session_started"
	EventRejected  = "fix_rejected"
	EventFailed    = "source_failed"
	EventFinished  = "session_finished"
	EventDiscarded = "session_discarded"
)

// Observer mirrors recorder events onto a Publisher under
// <prefix>.<owner>.{track,events,status}.
type Observer struct {
	pub   Publisher
	owner string
	now   func() time.Time

	trackTopic  string
	eventTopic  string
	statusTopic string
}

func NewObserver(pub Publisher, prefix, owner string) *Observer {
	return &Observer{
		pub:         pub,
		owner:       owner,
		now:         time.Now,
		trackTopic:  pub.Topic(prefix, owner, "track"),
		eventTopic:  pub.Topic(prefix, owner, "events"),
		statusTopic: pub.Topic(prefix, owner, "status"),
	}
}

func (o *Observer) SessionStarted(st patrol.Status) {
	o.event(EventMessage{SessionID: st.SessionID, Type: EventStarted})
	o.send(o.statusTopic, st)
}

func (o *Observer) FixObserved(string, track.Fix) {}

func (o *Observer) FixRejected(id string, fix track.Fix, reason track.Reason) {
	o.event(EventMessage{SessionID: id, Type: EventRejected, Reason: reason.String(), Accuracy: fix.Accuracy})
}

func (o *Observer) PointAccepted(id string, _ track.TrackPoint, snapshot []track.TrackPoint, distance float64) {
	o.send(o.trackTopic, TrackMessage{
		OwnerID:        o.owner,
		SessionID:      id,
		Timestamp:      o.now(),
		PointCount:     len(snapshot),
		DistanceMeters: distance,
		Heading:        track.Heading(snapshot),
		Points:         snapshot,
	})
}

func (o *Observer) SourceFailed(id string, err error) {
	o.event(EventMessage{SessionID: id, Type: EventFailed, Reason: position.Kind(err), Error: err.Error()})
}

func (o *Observer) Tick(st patrol.Status) { o.send(o.statusTopic, st) }

func (o *Observer) SessionFinished(rec patrol.TripRecord) {
	o.event(EventMessage{SessionID: rec.ID, Type: EventFinished, Record: &rec})
	o.send(o.statusTopic, patrol.Status{State: patrol.Idle})
}

func (o *Observer) SessionDiscarded(id string, err error) {
	o.event(EventMessage{SessionID: id, Type: EventDiscarded, Error: err.Error()})
	o.send(o.statusTopic, patrol.Status{State: patrol.Idle})
}

func (o *Observer) event(ev EventMessage) {
	ev.OwnerID = o.owner
	ev.Timestamp = o.now()
	o.send(o.eventTopic, ev)
}

func (o *Observer) send(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("publish %s: encode: %v", topic, err)
		return
	}
	if err := o.pub.Publish(topic, b); err != nil {
		log.Printf("publish %s: %v", topic, err)
	}
}
