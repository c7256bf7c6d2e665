package muxer

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"hotlap/internal/types"
)

const (
	videoTimescale uint32 = 90000
	videoTrackID          = 1
	audioTrackID          = 2
)

// FMP4Muxer writes a snapshot as a single fragmented-MP4 file: one init
// segment followed by one media fragment holding every sample, grounded
// on a streaming fMP4 writer's per-sample fmp4.Part construction
// (babelcloud-gbox's fmp4_writer.go) but collapsed to a single pass
// since the whole snapshot is already in memory by save time.
type FMP4Muxer struct{}

func NewFMP4Muxer() *FMP4Muxer { return &FMP4Muxer{} }

func (m *FMP4Muxer) WriteVideo(path string, video []types.EncodedVideoUnit, cfg VideoConfig) error {
	return m.write(path, video, cfg, nil, AudioConfig{})
}

func (m *FMP4Muxer) WriteVideoAudio(path string, video []types.EncodedVideoUnit, vcfg VideoConfig, audio []types.EncodedAudioUnit, acfg AudioConfig) error {
	return m.write(path, video, vcfg, audio, acfg)
}

func (m *FMP4Muxer) write(path string, video []types.EncodedVideoUnit, vcfg VideoConfig, audio []types.EncodedAudioUnit, acfg AudioConfig) error {
	if len(video) == 0 {
		return fmt.Errorf("muxer: no video units to write")
	}

	sps, pps := extractSPSPPS(vcfg.SequenceHeader)
	if len(sps) == 0 || len(pps) == 0 {
		return fmt.Errorf("muxer: sequence header has no SPS/PPS")
	}

	tracks := []*fmp4.InitTrack{
		{
			ID:        videoTrackID,
			TimeScale: videoTimescale,
			Codec:     &mp4.CodecH264{SPS: sps, PPS: pps},
		},
	}
	haveAudio := len(audio) > 0
	if haveAudio {
		tracks = append(tracks, &fmp4.InitTrack{
			ID:        audioTrackID,
			TimeScale: uint32(acfg.SampleRate),
			Codec:     &mp4.CodecOpus{ChannelCount: acfg.Channels},
		})
	}

	f, err := createOutput(path)
	if err != nil {
		return err
	}
	defer f.Close()

	init := &fmp4.Init{Tracks: tracks}
	var initBuf seekablebuffer.Buffer
	if err := init.Marshal(&initBuf); err != nil {
		return fmt.Errorf("muxer: marshal init segment: %w", err)
	}
	if _, err := f.Write(initBuf.Bytes()); err != nil {
		return fmt.Errorf("muxer: write init segment: %w", err)
	}

	videoSamples := make([]*fmp4.Sample, 0, len(video))
	firstPTS := video[0].PTS
	for i, u := range video {
		avcc := annexBToAVCC(u.Data)
		if len(avcc) == 0 {
			continue
		}
		if u.IsKey {
			avcc = prependParameterSets(avcc, sps, pps)
		}
		dur := uint32(scaleHNS(u.Duration, videoTimescale))
		if dur == 0 && i+1 < len(video) {
			dur = uint32(scaleHNS(video[i+1].PTS-u.PTS, videoTimescale))
		}
		videoSamples = append(videoSamples, &fmp4.Sample{
			Payload:         avcc,
			Duration:        dur,
			IsNonSyncSample: !u.IsKey,
		})
	}
	if len(videoSamples) == 0 {
		return fmt.Errorf("muxer: no video samples survived conversion")
	}

	partTracks := []*fmp4.PartTrack{
		{
			ID:       videoTrackID,
			BaseTime: 0,
			Samples:  videoSamples,
		},
	}

	if haveAudio {
		audioSamples := make([]*fmp4.Sample, 0, len(audio))
		for i, u := range audio {
			dur := uint32(scaleHNS(u.Duration, uint32(acfg.SampleRate)))
			if dur == 0 && i+1 < len(audio) {
				dur = uint32(scaleHNS(audio[i+1].PTS-u.PTS, uint32(acfg.SampleRate)))
			}
			audioSamples = append(audioSamples, &fmp4.Sample{
				Payload:  u.Data,
				Duration: dur,
			})
		}
		audioBase := scaleHNS(audio[0].PTS-firstPTS, uint32(acfg.SampleRate))
		if audioBase < 0 {
			audioBase = 0
		}
		partTracks = append(partTracks, &fmp4.PartTrack{
			ID:       audioTrackID,
			BaseTime: uint64(audioBase),
			Samples:  audioSamples,
		})
	}

	part := &fmp4.Part{SequenceNumber: 1, Tracks: partTracks}
	var partBuf seekablebuffer.Buffer
	if err := part.Marshal(&partBuf); err != nil {
		return fmt.Errorf("muxer: marshal media segment: %w", err)
	}
	if _, err := f.Write(partBuf.Bytes()); err != nil {
		return fmt.Errorf("muxer: write media segment: %w", err)
	}
	return nil
}

// scaleHNS converts an HNS (100ns-tick) duration into the given track
// timescale's ticks.
func scaleHNS(h types.HNS, timescale uint32) int64 {
	if h <= 0 {
		return 0
	}
	return int64(h) * int64(timescale) / int64(types.HNSPerSecond)
}
