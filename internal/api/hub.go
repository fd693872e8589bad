package api

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/position"
	"patrol-tracker/internal/publisher"
	"patrol-tracker/internal/track"
)

const clientBuffer = 64

// LiveMessage is one frame on the live feed.
type LiveMessage struct {
	Type string `json:"type"` // status | track | event
	Data any    `json:"data"`
}

// Hub fans recorder events out to live feed clients. A client that falls
// behind loses messages instead of slowing the recorder down.
type Hub struct {
	owner   string
	mu      sync.RWMutex
	clients map[*Client]struct{}
	pending func() bool
}

type Client struct {
	Send chan []byte
}

func NewHub(owner string) *Hub {
	return &Hub{owner: owner, clients: map[*Client]struct{}{}}
}

// SetPending installs the check for an unsaved patrol shown in status frames.
func (h *Hub) SetPending(fn func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = fn
}

func (h *Hub) hasPending() bool {
	h.mu.RLock()
	fn := h.pending
	h.mu.RUnlock()
	return fn != nil && fn()
}

// PublishStatus sends a status frame to every client.
func (h *Hub) PublishStatus(st patrol.Status) {
	h.send("status", statusView(st, h.hasPending()))
}

func (h *Hub) Register() *Client {
	client := &Client{Send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast holds the read lock while sending so Unregister cannot close a
// channel mid-send.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) send(typ string, data any) {
	b, err := encodeLive(typ, data)
	if err != nil {
		log.Printf("live feed: encode %s: %v", typ, err)
		return
	}
	h.Broadcast(b)
}

func encodeLive(typ string, data any) ([]byte, error) {
	return json.Marshal(LiveMessage{Type: typ, Data: data})
}

func (h *Hub) event(ev publisher.EventMessage) {
	ev.OwnerID = h.owner
	ev.Timestamp = time.Now()
	h.send("event", ev)
}

func (h *Hub) SessionStarted(st patrol.Status) {
	h.event(publisher.EventMessage{SessionID: st.SessionID, Type: publisher.EventStarted})
	h.PublishStatus(st)
}

func (h *Hub) FixObserved(string, track.Fix) {}

func (h *Hub) FixRejected(id string, fix track.Fix, reason track.Reason) {
	h.event(publisher.EventMessage{SessionID: id, Type: publisher.EventRejected, Reason: reason.String(), Accuracy: fix.Accuracy})
}

func (h *Hub) PointAccepted(id string, _ track.TrackPoint, snapshot []track.TrackPoint, distance float64) {
	h.send("track", publisher.TrackMessage{
		OwnerID:        h.owner,
		SessionID:      id,
		Timestamp:      time.Now(),
		PointCount:     len(snapshot),
		DistanceMeters: distance,
		Heading:        track.Heading(snapshot),
		Points:         snapshot,
	})
}

func (h *Hub) SourceFailed(id string, err error) {
	h.event(publisher.EventMessage{SessionID: id, Type: publisher.EventFailed, Reason: position.Kind(err), Error: err.Error()})
}

func (h *Hub) Tick(st patrol.Status) { h.PublishStatus(st) }

func (h *Hub) SessionFinished(rec patrol.TripRecord) {
	h.event(publisher.EventMessage{SessionID: rec.ID, Type: publisher.EventFinished, Record: &rec})
	h.PublishStatus(patrol.Status{State: patrol.Idle})
}

func (h *Hub) SessionDiscarded(id string, err error) {
	h.event(publisher.EventMessage{SessionID: id, Type: publisher.EventDiscarded, Error: err.Error()})
	h.PublishStatus(patrol.Status{State: patrol.Idle})
}
