package patrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"patrol-tracker/internal/position"
	"patrol-tracker/internal/track"
)

type Config struct {
	PollInterval   time.Duration // between fix requests
	ElapsedTick    time.Duration // display counter cadence
	FixTimeout     time.Duration // per request
	MinTrackPoints int           // fewer accepted points discards the session
	Filter         track.FilterConfig
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		ElapsedTick:    time.Second,
		FixTimeout:     10 * time.Second,
		MinTrackPoints: 3,
		Filter:         track.DefaultFilterConfig(),
	}
}

type Option func(*Recorder)

// WithClock replaces time.Now for session start/end stamps and elapsed time.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithIDs replaces the session ID generator.
func WithIDs(next func() string) Option {
	return func(r *Recorder) { r.newID = next }
}

// Status is a point-in-time view of the recorder for displays.
type Status struct {
	State            State     `json:"state"`
	SessionID        string    `json:"sessionId,omitempty"`
	StartedAt        time.Time `json:"startedAt,omitzero"`
	ElapsedSeconds   int64     `json:"elapsedSeconds"`
	PointCount       int       `json:"pointCount"`
	DistanceMeters   float64   `json:"distanceMeters"`
	ObservedAccuracy *float64  `json:"observedAccuracy,omitempty"`
	AccuracyGrade    string    `json:"accuracyGrade,omitempty"`
	LastRejection    string    `json:"lastRejection,omitempty"`
}

// Recorder runs one patrol session at a time: it polls the positioning
// source, filters fixes into a trajectory and turns the trajectory into a
// TripRecord on Stop.
type Recorder struct {
	cfg      Config
	filter   track.Filter
	source   position.Source
	observer Observer
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	state  State
	sess   *session
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// session is the mutable state of the active recording. Only the recorder
// touches it, under mu.
type session struct {
	id          string
	startedAt   time.Time
	traj        *track.Trajectory
	elapsed     time.Duration
	observed    float64
	hasObserved bool
	lastReject  track.Reason
}

func NewRecorder(cfg Config, src position.Source, obs Observer, opts ...Option) *Recorder {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ElapsedTick <= 0 {
		cfg.ElapsedTick = def.ElapsedTick
	}
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = def.FixTimeout
	}
	if cfg.MinTrackPoints < 1 {
		cfg.MinTrackPoints = def.MinTrackPoints
	}
	if cfg.Filter == (track.FilterConfig{}) {
		cfg.Filter = def.Filter
	}
	// a zero accuracy gate would reject every fix
	if cfg.Filter.MaxAccuracy <= 0 {
		cfg.Filter.MaxAccuracy = def.Filter.MaxAccuracy
	}
	if obs == nil {
		obs = NopObserver{}
	}
	r := &Recorder{
		cfg:      cfg,
		filter:   track.NewFilter(cfg.Filter),
		source:   src,
		observer: obs,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Recorder) Config() Config { return r.cfg }

// Start begins a new session. ctx bounds the sampling goroutines; pass a
// context that lives as long as the process, not a request context.
func (r *Recorder) Start(ctx context.Context) (Status, error) {
	r.mu.Lock()
	if r.state != Idle {
		st := r.state
		r.mu.Unlock()
		return Status{}, fmt.Errorf("%w: start while %s", ErrInvalidState, st)
	}
	s := &session{
		id:        r.newID(),
		startedAt: r.now(),
		traj:      track.NewTrajectory(),
	}
	r.sess = s
	r.state = Recording
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	ready := make(chan struct{})
	r.wg.Add(2)
	go r.sample(runCtx, s.id, ready)
	go r.countElapsed(runCtx, s.id, ready)
	st := r.statusLocked()
	r.mu.Unlock()

	r.observer.SessionStarted(st)
	close(ready)
	return st, nil
}

// OnFix routes a fix through the filter into the active trajectory.
// The returned reason is only meaningful when err is nil.
func (r *Recorder) OnFix(fix track.Fix) (track.Reason, error) {
	return r.deliver("", fix)
}

func (r *Recorder) deliver(id string, fix track.Fix) (track.Reason, error) {
	r.mu.Lock()
	s := r.sess
	if r.state != Recording || s == nil || (id != "" && s.id != id) {
		st := r.state
		r.mu.Unlock()
		return track.Accepted, fmt.Errorf("%w: fix while %s", ErrInvalidState, st)
	}
	s.observed = fix.Accuracy
	s.hasObserved = true
	reason := s.traj.Offer(r.filter, fix)
	var (
		point    track.TrackPoint
		snapshot []track.TrackPoint
	)
	if reason == track.Accepted {
		point, _ = s.traj.Last()
		snapshot = s.traj.Snapshot()
	} else {
		s.lastReject = reason
	}
	distance := s.traj.Distance()
	r.mu.Unlock()

	r.observer.FixObserved(s.id, fix)
	if reason == track.Accepted {
		r.observer.PointAccepted(s.id, point, snapshot, distance)
	} else {
		r.observer.FixRejected(s.id, fix, reason)
	}
	return reason, nil
}

// Stop ends the active session. Both tickers are stopped and any in-flight
// request is cancelled before the trajectory is validated.
func (r *Recorder) Stop() (TripRecord, error) {
	r.mu.Lock()
	if r.state != Recording {
		st := r.state
		r.mu.Unlock()
		return TripRecord{}, fmt.Errorf("%w: stop while %s", ErrInvalidState, st)
	}
	r.state = Finalizing
	endedAt := r.now()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.mu.Lock()
	s := r.sess
	r.sess = nil
	rec, err := finalize(s, endedAt, r.cfg.MinTrackPoints)
	r.state = Idle
	r.mu.Unlock()

	if err != nil {
		r.observer.SessionDiscarded(s.id, err)
		return TripRecord{}, err
	}
	r.observer.SessionFinished(rec)
	return rec, nil
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// Snapshot returns a copy of the active trajectory, or nil when idle.
func (r *Recorder) Snapshot() []track.TrackPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.traj.Snapshot()
}

func (r *Recorder) statusLocked() Status {
	st := Status{State: r.state}
	s := r.sess
	if s == nil {
		return st
	}
	st.SessionID = s.id
	st.StartedAt = s.startedAt
	st.ElapsedSeconds = int64(s.elapsed / time.Second)
	st.PointCount = s.traj.Len()
	st.DistanceMeters = s.traj.Distance()
	if s.hasObserved {
		acc := s.observed
		st.ObservedAccuracy = &acc
		st.AccuracyGrade = track.Grade(acc)
	}
	if s.lastReject != track.Accepted {
		st.LastRejection = s.lastReject.String()
	}
	return st
}

// sample requests one fix immediately and then one per poll interval. A
// request always completes before the next one is issued.
func (r *Recorder) sample(ctx context.Context, id string, ready <-chan struct{}) {
	defer r.wg.Done()
	select {
	case <-ready:
	case <-ctx.Done():
		return
	}
	tick := time.NewTicker(r.cfg.PollInterval)
	defer tick.Stop()

	r.poll(ctx, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.poll(ctx, id)
		}
	}
}

func (r *Recorder) poll(ctx context.Context, id string) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.FixTimeout)
	fix, err := r.source.RequestFix(reqCtx)
	cancel()
	if ctx.Err() != nil {
		// stopping: whatever arrived is dropped
		return
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, position.ErrTimeout) {
			err = fmt.Errorf("%w: %v", position.ErrTimeout, err)
		}
		r.observer.SourceFailed(id, err)
		return
	}
	_, _ = r.deliver(id, fix)
}

// countElapsed advances the display counter. It never touches the trajectory.
func (r *Recorder) countElapsed(ctx context.Context, id string, ready <-chan struct{}) {
	defer r.wg.Done()
	select {
	case <-ready:
	case <-ctx.Done():
		return
	}
	tick := time.NewTicker(r.cfg.ElapsedTick)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			r.mu.Lock()
			if r.state != Recording || r.sess == nil || r.sess.id != id {
				r.mu.Unlock()
				return
			}
			r.sess.elapsed += r.cfg.ElapsedTick
			st := r.statusLocked()
			r.mu.Unlock()
			r.observer.Tick(st)
		}
	}
}
