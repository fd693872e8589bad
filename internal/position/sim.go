package position

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"patrol-tracker/internal/geo"
	"patrol-tracker/internal/track"
)

// SimOptions configures a Simulator.
type SimOptions struct {
	SpeedMps float64 // walking speed along the route
	Accuracy float64 // reported accuracy in meters
	Jitter   float64 // 1-sigma position noise in meters; 0 disables
	Seed     uint64
	Loop     bool // restart from the first point at the end of the route
	Clock    func() time.Time
}

// Simulator walks a polyline route at constant speed and reports where a
// receiver would be at request time.
type Simulator struct {
	route []geo.Coordinate
	cum   []float64
	opts  SimOptions

	mu    sync.Mutex
	rng   *rand.Rand
	start time.Time
}

func NewSimulator(route []geo.Coordinate, opts SimOptions) (*Simulator, error) {
	if len(route) < 2 {
		return nil, errors.New("route needs at least two points")
	}
	if opts.SpeedMps <= 0 {
		return nil, fmt.Errorf("invalid speed %v", opts.SpeedMps)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	cum := cumDistances(route)
	if cum[len(cum)-1] == 0 {
		return nil, errors.New("route has zero length")
	}
	return &Simulator{
		route: route,
		cum:   cum,
		opts:  opts,
		rng:   rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Length returns the route length in meters.
func (s *Simulator) Length() float64 { return s.cum[len(s.cum)-1] }

func (s *Simulator) RequestFix(ctx context.Context) (track.Fix, error) {
	if err := ctx.Err(); err != nil {
		return track.Fix{}, contextError(err)
	}
	now := s.opts.Clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start.IsZero() {
		s.start = now
	}
	dist := now.Sub(s.start).Seconds() * s.opts.SpeedMps
	total := s.Length()
	if dist > total {
		if !s.opts.Loop {
			dist = total
		} else {
			dist = math.Mod(dist, total)
		}
	}
	pos := interpolateRoute(s.route, s.cum, dist)
	acc := s.opts.Accuracy
	if s.opts.Jitter > 0 {
		pos = geo.Offset(pos, s.rng.NormFloat64()*s.opts.Jitter, s.rng.NormFloat64()*s.opts.Jitter)
		acc += math.Abs(s.rng.NormFloat64() * s.opts.Jitter)
	}
	return track.Fix{Coordinate: pos, Accuracy: acc, CapturedAt: now}, nil
}

// cumDistances returns the distance along the route at each vertex.
func cumDistances(pts []geo.Coordinate) []float64 {
	cum := make([]float64, len(pts))
	sum := 0.0
	for i := 1; i < len(pts); i++ {
		sum += geo.Distance(pts[i-1], pts[i])
		cum[i] = sum
	}
	return cum
}

// interpolateRoute returns the position at dist meters along the route.
func interpolateRoute(pts []geo.Coordinate, cum []float64, dist float64) geo.Coordinate {
	n := len(pts)
	if dist <= 0 {
		return pts[0]
	}
	if dist >= cum[n-1] {
		return pts[n-1]
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return pts[i-1]
	}
	return geo.Interpolate(pts[i-1], pts[i], (dist-d0)/(d1-d0))
}

// LoadRoute reads "lat,lon" rows. Lines starting with '#' are comments.
func LoadRoute(r io.Reader) ([]geo.Coordinate, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var route []geo.Coordinate
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read route: %w", err)
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("route row %d: want lat,lon, got %q", line, strings.Join(rec, ","))
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("route row %d: invalid lat %q", line, rec[0])
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("route row %d: invalid lon %q", line, rec[1])
		}
		c := geo.Coordinate{Lat: lat, Lon: lon}
		if !geo.Valid(c) {
			return nil, fmt.Errorf("route row %d: coordinate out of range: %v", line, c)
		}
		route = append(route, c)
	}
	return route, nil
}

// LoadRouteFile is LoadRoute on a file path.
func LoadRouteFile(path string) ([]geo.Coordinate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadRoute(f)
}

// DefaultRoute is a closed loop of roughly 1.6 km around a city block.
func DefaultRoute() []geo.Coordinate {
	origin := geo.Coordinate{Lat: 39.915, Lon: 116.404}
	return []geo.Coordinate{
		origin,
		geo.Offset(origin, 400, 0),
		geo.Offset(origin, 400, 400),
		geo.Offset(origin, 0, 400),
		origin,
	}
}
