//go:build darwin

package capture

import "hotlap/internal/errkind"

// NewXshmCapturer and NewNvFBCCapturer have no Darwin equivalent here:
// the example corpus carries no ScreenCaptureKit/CoreGraphics capture
// binding to ground a real Darwin desktop-duplication adapter on, so
// Darwin builds report init failure rather than fabricating an untested
// binding.

func NewXshmCapturer(displayName string) (Adapter, error) {
	return nil, errkind.InitFailed
}

func NewNvFBCCapturer(fps int, pciBusID string) (Adapter, error) {
	return nil, errkind.InitFailed
}
