package permissions

import "errors"

var (
	// ErrMicrophoneDenied is returned when the user or a policy refused access.
	ErrMicrophoneDenied = errors.New("microphone permission denied")
	// ErrMicrophonePending is returned while the system prompt is still open.
	ErrMicrophonePending = errors.New("microphone permission not yet granted")
)
