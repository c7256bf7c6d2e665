package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// silentReader models a device with nothing buffered: every poll comes
// back empty.
type silentReader struct{ closed bool }

func (r *silentReader) Read() (NativePacket, error) { return NativePacket{Silence: true}, nil }
func (r *silentReader) SampleRate() int             { return CanonicalSampleRate }
func (r *silentReader) Channels() int               { return CanonicalChannels }
func (r *silentReader) Format() SampleFormat        { return FormatS16 }
func (r *silentReader) Close()                      { r.closed = true }

func TestSource_IdleDevicePacesSilenceAtPollInterval(t *testing.T) {
	r := &silentReader{}
	s := NewSource("idle", r, 100)

	go s.Run()
	time.Sleep(3*AudioPollInterval + AudioPollInterval/2)
	s.Close()

	got := s.ring.available()
	require.Greater(t, got, 0, "an idle device must still advance the canonical timeline")
	require.LessOrEqual(t, got, 6*silenceBytesPerPoll,
		"silence must be synthesized once per poll interval, not in a busy loop")
	require.Zero(t, got%(CanonicalChannels*bytesPerSample), "silence output must be frame-aligned")
	require.True(t, r.closed)
}
