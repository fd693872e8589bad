package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/store"
	"patrol-tracker/internal/track"
)

// Records is the persistence the server needs.
type Records interface {
	Upsert(ctx context.Context, owner string, rec patrol.TripRecord, loc *time.Location) (store.Summary, error)
	Get(ctx context.Context, owner, date string) (store.Record, error)
	List(ctx context.Context, owner, from, to string) ([]store.Summary, error)
}

// StatusView is the recorder status as shown to clients.
type StatusView struct {
	patrol.Status
	Elapsed     string `json:"elapsed"`
	PendingSave bool   `json:"pendingSave,omitempty"`
}

func statusView(st patrol.Status, pending bool) StatusView {
	return StatusView{Status: st, Elapsed: patrol.FormatClock(st.ElapsedSeconds), PendingSave: pending}
}

// SavedPatrol is returned after a record is persisted.
type SavedPatrol struct {
	store.Summary
	Duration string `json:"duration"`
}

type Option func(*Server)

// WithSaveHook is called after every save attempt with its result.
func WithSaveHook(fn func(err error)) Option {
	return func(s *Server) { s.onSave = fn }
}

// Server exposes the recorder and the patrol history over HTTP.
type Server struct {
	base    context.Context
	rec     *patrol.Recorder
	records Records
	hub     *Hub
	owner   string
	loc     *time.Location
	onSave  func(error)

	mu      sync.Mutex
	pending *patrol.TripRecord
}

// NewServer builds the API. base outlives requests and bounds recording
// sessions started over HTTP.
func NewServer(base context.Context, rec *patrol.Recorder, records Records, hub *Hub, owner string, loc *time.Location, opts ...Option) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		base:    base,
		rec:     rec,
		records: records,
		hub:     hub,
		owner:   owner,
		loc:     loc,
	}
	for _, o := range opts {
		o(s)
	}
	hub.SetPending(s.hasPending)
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		p := api.Group("/patrol")
		{
			p.POST("/start", s.start)
			p.POST("/stop", s.stop)
			p.POST("/retry", s.retry)
			p.GET("/status", s.status)
			p.GET("/track", s.track)
			p.GET("/live", s.live)
		}
		api.GET("/patrols", s.list)
		api.GET("/patrols/:date", s.get)
	}
	return r
}

// Serve starts the HTTP server in the background.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()
	log.Printf("http listening on %s", addr)
	return srv
}

// Persist saves rec. On failure the record is held as pending so it can be
// retried instead of lost. A successful save for the same patrol date
// supersedes the pending record, since retrying it would overwrite the newer one.
func (s *Server) Persist(ctx context.Context, rec patrol.TripRecord) (SavedPatrol, error) {
	sum, err := s.records.Upsert(ctx, s.owner, rec, s.loc)
	if s.onSave != nil {
		s.onSave(err)
	}
	s.mu.Lock()
	changed := s.settle(rec, sum, err)
	s.mu.Unlock()
	if changed {
		s.hub.PublishStatus(s.rec.Status())
	}
	if err != nil {
		return SavedPatrol{}, err
	}
	log.Printf("patrol %s saved for %s on %s", rec.ID, s.owner, sum.PatrolDate)
	return SavedPatrol{Summary: sum, Duration: patrol.FormatClock(sum.DurationSeconds)}, nil
}

// settle updates the pending record after a save attempt and reports
// whether it changed. Callers hold s.mu.
func (s *Server) settle(rec patrol.TripRecord, sum store.Summary, err error) bool {
	if err != nil {
		if s.pending != nil && s.pending.ID != rec.ID {
			log.Printf("replacing unsaved patrol %s with %s", s.pending.ID, rec.ID)
		}
		s.pending = &rec
		return true
	}
	if s.pending == nil {
		return false
	}
	switch {
	case s.pending.ID == rec.ID:
	case s.pending.PatrolDate(s.loc) == sum.PatrolDate:
		log.Printf("dropping unsaved patrol %s: superseded by %s on %s", s.pending.ID, rec.ID, sum.PatrolDate)
	default:
		return false
	}
	s.pending = nil
	return true
}

// Pending returns the record whose save failed, if any.
func (s *Server) Pending() (patrol.TripRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return patrol.TripRecord{}, false
	}
	return *s.pending, true
}

func (s *Server) start(c *gin.Context) {
	st, err := s.rec.Start(s.base)
	if err != nil {
		if errors.Is(err, patrol.ErrInvalidState) {
			Error(c, http.StatusConflict, "patrol already in progress", statusView(s.rec.Status(), s.hasPending()))
			return
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Success(c, http.StatusCreated, statusView(st, s.hasPending()))
}

func (s *Server) stop(c *gin.Context) {
	rec, err := s.rec.Stop()
	switch {
	case errors.Is(err, patrol.ErrInvalidState):
		Error(c, http.StatusConflict, "no patrol in progress", nil)
		return
	case errors.Is(err, patrol.ErrEmptyTrajectory):
		Error(c, http.StatusUnprocessableEntity, err.Error(), gin.H{"reason": "empty_trajectory"})
		return
	case errors.Is(err, patrol.ErrInsufficientMovement):
		Error(c, http.StatusUnprocessableEntity, err.Error(), gin.H{"reason": "insufficient_movement"})
		return
	case err != nil:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	saved, err := s.Persist(c.Request.Context(), rec)
	if err != nil {
		log.Printf("save patrol %s: %v", rec.ID, err)
		Error(c, http.StatusBadGateway, "patrol recorded but could not be saved; retry later",
			gin.H{"reason": "store_unavailable", "sessionId": rec.ID, "pointCount": rec.PointCount()})
		return
	}
	Success(c, http.StatusOK, saved)
}

func (s *Server) retry(c *gin.Context) {
	rec, ok := s.Pending()
	if !ok {
		NotFound(c, "no unsaved patrol")
		return
	}
	saved, err := s.Persist(c.Request.Context(), rec)
	if err != nil {
		log.Printf("retry save patrol %s: %v", rec.ID, err)
		Error(c, http.StatusBadGateway, "patrol could not be saved; retry later",
			gin.H{"reason": "store_unavailable", "sessionId": rec.ID})
		return
	}
	Success(c, http.StatusOK, saved)
}

func (s *Server) status(c *gin.Context) {
	Success(c, http.StatusOK, statusView(s.rec.Status(), s.hasPending()))
}

type trackView struct {
	SessionID      string             `json:"sessionId,omitempty"`
	PointCount     int                `json:"pointCount"`
	DistanceMeters float64            `json:"distanceMeters"`
	Points         []track.TrackPoint `json:"points"`
}

func (s *Server) track(c *gin.Context) {
	st := s.rec.Status()
	points := s.rec.Snapshot()
	if points == nil {
		points = []track.TrackPoint{}
	}
	Success(c, http.StatusOK, trackView{
		SessionID:      st.SessionID,
		PointCount:     len(points),
		DistanceMeters: st.DistanceMeters,
		Points:         points,
	})
}

func (s *Server) list(c *gin.Context) {
	owner := c.DefaultQuery("owner", s.owner)
	from, to := c.Query("from"), c.Query("to")
	for _, d := range []string{from, to} {
		if d != "" && !store.ValidDate(d) {
			BadRequest(c, "dates must be YYYY-MM-DD")
			return
		}
	}
	items, err := s.records.List(c.Request.Context(), owner, from, to)
	if err != nil {
		Error(c, http.StatusInternalServerError, "failed to list patrols", nil)
		return
	}
	if items == nil {
		items = []store.Summary{}
	}
	Success(c, http.StatusOK, gin.H{"owner": owner, "patrols": items, "total": len(items)})
}

func (s *Server) get(c *gin.Context) {
	owner := c.DefaultQuery("owner", s.owner)
	date := c.Param("date")
	if !store.ValidDate(date) {
		BadRequest(c, "date must be YYYY-MM-DD")
		return
	}
	rec, err := s.records.Get(c.Request.Context(), owner, date)
	if errors.Is(err, store.ErrNotFound) {
		NotFound(c, "no patrol recorded on "+date)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, "failed to load patrol", nil)
		return
	}
	Success(c, http.StatusOK, rec)
}

func (s *Server) hasPending() bool {
	_, ok := s.Pending()
	return ok
}
