package muxer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hotlap/internal/types"
)

func sampleSeqHeader() []byte {
	sps := []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	pps := []byte{0x68, 0xce, 0x38, 0x80}
	return annexB(sps, pps)
}

func sampleVideoUnits(n int) []types.EncodedVideoUnit {
	units := make([]types.EncodedVideoUnit, 0, n)
	for i := 0; i < n; i++ {
		payload := annexB([]byte{0x65, byte(i), 0x01, 0x02})
		units = append(units, types.EncodedVideoUnit{
			Data:     payload,
			PTS:      types.HNS(i) * (types.HNSPerSecond / 30),
			Duration: types.HNSPerSecond / 30,
			IsKey:    i == 0,
		})
	}
	return units
}

func TestFMP4Muxer_WriteVideo_ProducesNonEmptyFile(t *testing.T) {
	m := NewFMP4Muxer()
	out := filepath.Join(t.TempDir(), "clip.mp4")

	err := m.WriteVideo(out, sampleVideoUnits(30), VideoConfig{
		Width: 1920, Height: 1080, FPS: 30,
		SequenceHeader: sampleSeqHeader(),
	})
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestFMP4Muxer_WriteVideo_RejectsEmptyInput(t *testing.T) {
	m := NewFMP4Muxer()
	out := filepath.Join(t.TempDir(), "clip.mp4")

	err := m.WriteVideo(out, nil, VideoConfig{SequenceHeader: sampleSeqHeader()})
	require.Error(t, err)
}

func TestFMP4Muxer_WriteVideo_RejectsMissingParameterSets(t *testing.T) {
	m := NewFMP4Muxer()
	out := filepath.Join(t.TempDir(), "clip.mp4")

	err := m.WriteVideo(out, sampleVideoUnits(5), VideoConfig{SequenceHeader: nil})
	require.Error(t, err)
}

func TestFMP4Muxer_WriteVideoAudio_IncludesAudioTrack(t *testing.T) {
	m := NewFMP4Muxer()
	out := filepath.Join(t.TempDir(), "clip.mp4")

	audio := []types.EncodedAudioUnit{
		{Data: []byte{0x01, 0x02, 0x03}, PTS: 0, Duration: types.HNSPerSecond / 50},
		{Data: []byte{0x04, 0x05, 0x06}, PTS: types.HNSPerSecond / 50, Duration: types.HNSPerSecond / 50},
	}

	err := m.WriteVideoAudio(out, sampleVideoUnits(10), VideoConfig{
		Width: 1280, Height: 720, FPS: 30, SequenceHeader: sampleSeqHeader(),
	}, audio, AudioConfig{SampleRate: 48000, Channels: 2, Bitrate: 192000})
	require.NoError(t, err)

	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
