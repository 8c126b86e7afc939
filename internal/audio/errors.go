package audio

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDeviceUnavailable   = errors.New("capture device unavailable")
	ErrPlatformUnsupported = errors.New("audio capture not supported on this platform")
)

// AcquisitionError is returned when a capture stream could not be granted.
// Kind is one of the Err* sentinels above.
type AcquisitionError struct {
	Kind   error
	Reason string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewAcquisitionError builds an AcquisitionError with a formatted reason.
func NewAcquisitionError(kind, err error, format string, args ...any) *AcquisitionError {
	return &AcquisitionError{
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

// KindOf returns the sentinel kind for err, or nil if err is not an
// acquisition failure.
func KindOf(err error) error {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Kind
	}
	return nil
}

// KindName is a short label for logging.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "DeviceUnavailable"
	case errors.Is(err, ErrPlatformUnsupported):
		return "PlatformUnsupported"
	default:
		return "Unknown"
	}
}
