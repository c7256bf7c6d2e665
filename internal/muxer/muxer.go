// Package muxer writes the rolling buffer's snapshot out as a fragmented
// MP4 file on save. The core treats the container format as a
// collaborator rather than something it defines the bytes of; this
// package supplies a concrete implementation so saves produce a file a
// normal player can open, built the way babelcloud-gbox's streaming
// writer builds fragments, on top of bluenviron/mediacommon.
package muxer

import (
	"fmt"
	"os"

	"hotlap/internal/types"
)

// VideoConfig describes the video track a Muxer must write.
type VideoConfig struct {
	Width, Height int
	FPS           int
	SequenceHeader []byte // codec parameter sets: an avcC record or Annex-B NALs
}

// AudioConfig describes the audio track a Muxer must write. CodecConfig
// is the encoder's codec-specific configuration blob; the fMP4 writer
// derives its Opus sample entry from SampleRate/Channels instead, but
// the blob travels with the track for muxers that need it verbatim.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	Bitrate     int
	CodecConfig []byte
}

// Muxer writes a save snapshot to a single output file. The supervisor
// holds one Muxer for its whole life and calls it once per save, always
// from the coordinator goroutine.
type Muxer interface {
	// WriteVideo writes a video-only file.
	WriteVideo(path string, video []types.EncodedVideoUnit, cfg VideoConfig) error
	// WriteVideoAudio writes an A/V file; audio timestamps are assumed
	// already renormalised so the earliest sample is t=0.
	WriteVideoAudio(path string, video []types.EncodedVideoUnit, vcfg VideoConfig, audio []types.EncodedAudioUnit, acfg AudioConfig) error
}

func createOutput(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("muxer: create %s: %w", path, err)
	}
	return f, nil
}
