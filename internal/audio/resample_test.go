package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinearResampler_SameRateIsIdentity(t *testing.T) {
	r := newLinearResampler(CanonicalSampleRate, CanonicalSampleRate, CanonicalChannels)
	in := []float64{100, -100, 200, -200}
	out := r.resample(in)
	require.Len(t, out, 8)
	require.Equal(t, int16(100), int16(uint16(out[0])|uint16(out[1])<<8))
}

func TestLinearResampler_UpsampleProducesMoreSamples(t *testing.T) {
	r := newLinearResampler(24000, 48000, CanonicalChannels)
	frames := 100
	in := make([]float64, frames*CanonicalChannels)
	for i := range in {
		in[i] = 1000
	}
	out := r.resample(in)
	outFrames := len(out) / (2 * CanonicalChannels)
	require.InDelta(t, frames*2, outFrames, 2)
}

func TestLinearResampler_DownsampleProducesFewerSamples(t *testing.T) {
	r := newLinearResampler(96000, 48000, CanonicalChannels)
	frames := 200
	in := make([]float64, frames*CanonicalChannels)
	for i := range in {
		in[i] = 500
	}
	out := r.resample(in)
	outFrames := len(out) / (2 * CanonicalChannels)
	require.InDelta(t, frames/2, outFrames, 2)
}

func TestEncodeInt16LE_SaturatesOutOfRange(t *testing.T) {
	out := encodeInt16LE([]float64{40000, -40000, 0})
	v0 := int16(binary.LittleEndian.Uint16(out[0:2]))
	v1 := int16(binary.LittleEndian.Uint16(out[2:4]))
	require.Equal(t, int16(32767), v0)
	require.Equal(t, int16(-32768), v1)
}
