// Package position provides positioning sources that deliver one fix per
// request. Sources must honour context cancellation.
package position

import (
	"context"
	"errors"
	"fmt"

	"patrol-tracker/internal/track"
)

var (
	ErrPermissionDenied = errors.New("positioning permission denied")
	ErrUnavailable      = errors.New("position unavailable")
	ErrTimeout          = errors.New("position request timed out")
)

// Source supplies fixes on request.
type Source interface {
	RequestFix(ctx context.Context) (track.Fix, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (track.Fix, error)

func (f SourceFunc) RequestFix(ctx context.Context) (track.Fix, error) { return f(ctx) }

// contextError maps an expired request to ErrTimeout. Cancellation is passed
// through unchanged; the caller gave up, the receiver did not time out.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// Kind returns a short label for a source error, used for metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
