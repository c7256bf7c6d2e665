//go:build darwin

package audio

import "hotlap/internal/errkind"

// NewSinkMonitorReader is not implemented on Darwin: the example corpus
// carries no CoreAudio tap-capture dependency to ground a loopback
// backend on, so Darwin builds report device init failure rather than
// fabricating an untested binding.
func NewSinkMonitorReader() (NativeReader, error) {
	return nil, errkind.InitFailed
}

func NewMicReader() (NativeReader, error) {
	return nil, errkind.InitFailed
}
