package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/track"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	dateLayout = "2006-01-02"
)

var ErrNotFound = errors.New("patrol record not found")

// Summary is one stored patrol without its points.
type Summary struct {
	OwnerID             string    `json:"ownerId"`
	PatrolDate          string    `json:"patrolDate"`
	SessionID           string    `json:"sessionId"`
	StartedAt           time.Time `json:"startTime"`
	EndedAt             time.Time `json:"endTime"`
	DurationSeconds     int64     `json:"durationSeconds"`
	TotalDistanceMeters float64   `json:"totalDistance"`
	PointCount          int       `json:"pointCount"`
}

// Record is a stored patrol with its trajectory.
type Record struct {
	Summary
	Points []track.TrackPoint `json:"locations"`
}

// Store keeps one patrol per owner and calendar day. Saving a second
// patrol on the same day replaces the first.
type Store struct {
	db     *sql.DB
	driver string
}

func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, "pgx", "":
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		return &Store{db: db, driver: DriverPostgres}, nil
	case DriverSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// one writer; also keeps an in-memory database alive
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return &Store{db: db, driver: DriverSQLite}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS patrols (
  owner_id         TEXT NOT NULL,
  patrol_date      TEXT NOT NULL,
  session_id       TEXT NOT NULL,
  start_time       TEXT NOT NULL,
  end_time         TEXT NOT NULL,
  duration_seconds BIGINT NOT NULL,
  total_distance_m DOUBLE PRECISION NOT NULL,
  point_count      INTEGER NOT NULL,
  locations        TEXT NOT NULL,
  updated_at       TEXT NOT NULL,
  PRIMARY KEY (owner_id, patrol_date)
)`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create patrols table: %w", err)
	}
	return nil
}

// Upsert saves rec for owner under the date it started in loc.
func (s *Store) Upsert(ctx context.Context, owner string, rec patrol.TripRecord, loc *time.Location) (Summary, error) {
	if strings.TrimSpace(owner) == "" {
		return Summary{}, errors.New("owner is required")
	}
	points := rec.Points
	if points == nil {
		points = []track.TrackPoint{}
	}
	locations, err := json.Marshal(points)
	if err != nil {
		return Summary{}, fmt.Errorf("encode locations: %w", err)
	}
	sum := Summary{
		OwnerID:             owner,
		PatrolDate:          rec.PatrolDate(loc),
		SessionID:           rec.ID,
		StartedAt:           rec.StartedAt,
		EndedAt:             rec.EndedAt,
		DurationSeconds:     rec.DurationSeconds,
		TotalDistanceMeters: rec.TotalDistanceMeters,
		PointCount:          rec.PointCount(),
	}

	q := `
INSERT INTO patrols (owner_id, patrol_date, session_id, start_time, end_time,
                     duration_seconds, total_distance_m, point_count, locations, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (owner_id, patrol_date) DO UPDATE SET
  session_id       = excluded.session_id,
  start_time       = excluded.start_time,
  end_time         = excluded.end_time,
  duration_seconds = excluded.duration_seconds,
  total_distance_m = excluded.total_distance_m,
  point_count      = excluded.point_count,
  locations        = excluded.locations,
  updated_at       = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, s.rebind(q),
		sum.OwnerID, sum.PatrolDate, sum.SessionID,
		formatTime(sum.StartedAt), formatTime(sum.EndedAt),
		sum.DurationSeconds, sum.TotalDistanceMeters, sum.PointCount,
		string(locations), formatTime(time.Now()),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("upsert patrol: %w", err)
	}
	return sum, nil
}

// Get returns the patrol owner recorded on date (YYYY-MM-DD).
func (s *Store) Get(ctx context.Context, owner, date string) (Record, error) {
	q := `
SELECT owner_id, patrol_date, session_id, start_time, end_time,
       duration_seconds, total_distance_m, point_count, locations
FROM patrols WHERE owner_id = ? AND patrol_date = ?`
	var (
		rec        Record
		start, end string
		locations  string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(q), owner, date).Scan(
		&rec.OwnerID, &rec.PatrolDate, &rec.SessionID, &start, &end,
		&rec.DurationSeconds, &rec.TotalDistanceMeters, &rec.PointCount, &locations,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s on %s", ErrNotFound, owner, date)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query patrol: %w", err)
	}
	if rec.StartedAt, err = parseTime(start); err != nil {
		return Record{}, err
	}
	if rec.EndedAt, err = parseTime(end); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(locations), &rec.Points); err != nil {
		return Record{}, fmt.Errorf("decode locations: %w", err)
	}
	return rec, nil
}

// List returns owner's patrols between from and to inclusive, newest first.
// Empty bounds are open.
func (s *Store) List(ctx context.Context, owner, from, to string) ([]Summary, error) {
	q := `
SELECT owner_id, patrol_date, session_id, start_time, end_time,
       duration_seconds, total_distance_m, point_count
FROM patrols WHERE owner_id = ?`
	args := []any{owner}
	if from != "" {
		q += ` AND patrol_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		q += ` AND patrol_date <= ?`
		args = append(args, to)
	}
	q += ` ORDER BY patrol_date DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query patrols: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum        Summary
			start, end string
		)
		if err := rows.Scan(&sum.OwnerID, &sum.PatrolDate, &sum.SessionID, &start, &end,
			&sum.DurationSeconds, &sum.TotalDistanceMeters, &sum.PointCount); err != nil {
			return nil, err
		}
		if sum.StartedAt, err = parseTime(start); err != nil {
			return nil, err
		}
		if sum.EndedAt, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
