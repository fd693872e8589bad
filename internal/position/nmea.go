package position

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"patrol-tracker/internal/geo"
	"patrol-tracker/internal/track"
)

// UERE is the user equivalent range error (meters) used to turn HDOP into
// an accuracy radius.
const UERE = 5.0

// FeedStatus says what a decoded line contributed.
type FeedStatus int

const (
	Ignored FeedStatus = iota
	NoFix
	FixReady
)

// Decoder turns NMEA sentences into fixes. RMC carries position, validity
// and UTC date/time; the most recent GGA supplies HDOP. A GGA without a
// fix clears HDOP so the next RMC reports unknown accuracy.
type Decoder struct {
	hdop float64
}

// Feed decodes one line. Unparseable or unrelated sentences are ignored.
func (d *Decoder) Feed(line string) (track.Fix, FeedStatus) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return track.Fix{}, Ignored
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy receivers emit partial sentences
		return track.Fix{}, Ignored
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid {
			d.hdop = 0
		} else {
			d.hdop = m.HDOP
		}
		return track.Fix{}, Ignored
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return track.Fix{}, NoFix
		}
		fix := track.Fix{
			Coordinate: geo.Coordinate{Lat: m.Latitude, Lon: m.Longitude},
			CapturedAt: rmcTime(m),
		}
		if d.hdop > 0 {
			fix.Accuracy = d.hdop * UERE
		}
		return fix, FixReady
	default:
		return track.Fix{}, Ignored
	}
}

func rmcTime(m nmea.RMC) time.Time {
	if !m.Date.Valid || !m.Time.Valid {
		return time.Now().UTC()
	}
	return time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
		m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
}

// ReplaySource replays a recorded NMEA log, one fix per request.
type ReplaySource struct {
	mu     sync.Mutex
	sc     *bufio.Scanner
	dec    Decoder
	closer io.Closer
}

func NewReplaySource(r io.Reader) *ReplaySource {
	s := &ReplaySource{sc: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenReplay opens an NMEA log file for replay.
func OpenReplay(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, err
	}
	return NewReplaySource(f), nil
}

func (s *ReplaySource) RequestFix(ctx context.Context) (track.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.sc.Scan() {
		if err := ctx.Err(); err != nil {
			return track.Fix{}, contextError(err)
		}
		fix, st := s.dec.Feed(s.sc.Text())
		switch st {
		case FixReady:
			return fix, nil
		case NoFix:
			return track.Fix{}, fmt.Errorf("%w: receiver reports no fix", ErrUnavailable)
		}
	}
	if err := s.sc.Err(); err != nil {
		return track.Fix{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return track.Fix{}, fmt.Errorf("%w: end of log", ErrUnavailable)
}

func (s *ReplaySource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
