//go:build !darwin

package permissions

import "testing"

func TestMicrophoneAlwaysGrantedOffDarwin(t *testing.T) {
	if err := Microphone(); err != nil {
		t.Fatalf("expected no permission gate, got %v", err)
	}
}
