package location

import (
	"context"
	"errors"
	"fmt"
)

// Errors a Geolocator reports for a failed request.
var (
	ErrPermissionDenied    = errors.New("location: permission denied")
	ErrPositionUnavailable = errors.New("location: position unavailable")
	ErrTimeout             = errors.New("location: request timed out")
	ErrUnsupported         = errors.New("location: geolocation not supported")
)

// ErrNoPermission is returned by operations that need a granted permission.
var ErrNoPermission = errors.New("location: permission not granted")

// Reason categorizes why a permission request failed.
type Reason string

const (
	ReasonDenied      Reason = "denied"
	ReasonUnavailable Reason = "unavailable"
	ReasonTimeout     Reason = "timeout"
	ReasonUnsupported Reason = "unsupported"
)

// PermissionError is returned by RequestPermission when no initial fix could be obtained.
// It is never fatal: callers continue with the fallback coordinate.
type PermissionError struct {
	Reason Reason
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("location permission %s: %v", e.Reason, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Classify maps a geolocation error to a permission failure reason.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ReasonDenied
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonUnavailable
	}
}
