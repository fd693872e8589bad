package position

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"

	"patrol-tracker/internal/track"
)

// StreamSource reads a continuous NMEA stream in the background and hands
// each fix out at most once. A request waits for a fix newer than the one
// previously returned.
type StreamSource struct {
	rc      io.ReadCloser
	updates chan track.Fix
	done    chan struct{}

	mu      sync.Mutex
	noFix   bool
	readErr error
}

func NewStreamSource(rc io.ReadCloser) *StreamSource {
	s := &StreamSource{
		rc:      rc,
		updates: make(chan track.Fix, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// OpenSerial opens a GPS receiver on a serial port.
func OpenSerial(port string, baud uint) (*StreamSource, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	rwc, err := serial.Open(opts)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	log.Printf("GPS serial port opened on %s at %d baud", port, baud)
	return NewStreamSource(rwc), nil
}

func (s *StreamSource) run() {
	defer close(s.done)
	var dec Decoder
	sc := bufio.NewScanner(s.rc)
	for sc.Scan() {
		fix, st := dec.Feed(sc.Text())
		switch st {
		case FixReady:
			s.mu.Lock()
			s.noFix = false
			s.mu.Unlock()
			s.push(fix)
		case NoFix:
			s.mu.Lock()
			s.noFix = true
			s.mu.Unlock()
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// push replaces any unread fix with the newer one.
func (s *StreamSource) push(fix track.Fix) {
	select {
	case s.updates <- fix:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- fix:
	default:
	}
}

func (s *StreamSource) RequestFix(ctx context.Context) (track.Fix, error) {
	select {
	case fix := <-s.updates:
		return fix, nil
	default:
	}
	select {
	case fix := <-s.updates:
		return fix, nil
	case <-s.done:
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		return track.Fix{}, fmt.Errorf("%w: stream closed: %v", ErrUnavailable, err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return track.Fix{}, ctx.Err()
		}
		s.mu.Lock()
		noFix := s.noFix
		s.mu.Unlock()
		if noFix {
			return track.Fix{}, fmt.Errorf("%w: receiver reports no fix", ErrUnavailable)
		}
		return track.Fix{}, contextError(ctx.Err())
	}
}

// Close closes the underlying stream and waits for the reader to exit.
func (s *StreamSource) Close() error {
	err := s.rc.Close()
	<-s.done
	return err
}
