//go:build !darwin

package permissions

// Microphone is a no-op on non-macOS platforms; access is enforced by the
// audio backend when the stream is opened.
func Microphone() error {
	return nil
}
