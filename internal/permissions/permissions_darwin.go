//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

const (
	statusNotDetermined = 0
	statusRestricted    = 1
	statusDenied        = 2
	statusAuthorized    = 3
)

// Microphone checks the capture authorization status and triggers the
// system prompt when the user has not decided yet.
func Microphone() error {
	switch int(C.checkMicrophonePermission()) {
	case statusAuthorized:
		return nil
	case statusNotDetermined:
		C.requestMicrophonePermission()
		return ErrMicrophonePending
	default:
		return ErrMicrophoneDenied
	}
}
