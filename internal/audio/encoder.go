package audio

import (
	"fmt"
	"log"
	"time"

	"hotlap/internal/errkind"
	"hotlap/internal/types"

	"github.com/hraban/opus"
)

const (
	frameDurationMs = 20
	frameSamples    = CanonicalSampleRate * frameDurationMs / 1000 // 960 per channel
	targetBitrate   = 192_000
)

// Encoder pulls canonical PCM off a Mixer 20ms frame at a time and emits
// Opus packets through a callback, matching the supervisor's
// add-to-audio-store wiring.
type Encoder struct {
	mixer *Mixer
	enc   *opus.Encoder

	onUnit func(types.EncodedAudioUnit)

	stop chan struct{}
	done chan struct{}
}

// NewEncoder creates an Opus encoder tuned for low-latency recording.
func NewEncoder(mixer *Mixer, onUnit func(types.EncodedAudioUnit)) (*Encoder, error) {
	enc, err := opus.NewEncoder(CanonicalSampleRate, CanonicalChannels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("audio/encoder: %w: %w", errkind.InitFailed, err)
	}
	if err := enc.SetBitrate(targetBitrate); err != nil {
		log.Printf("audio/encoder: set bitrate: %v", err)
	}
	return &Encoder{
		mixer:  mixer,
		enc:    enc,
		onUnit: onUnit,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// CodecConfig returns the codec-specific configuration blob stored
// alongside the first encoded unit (Opus carries its config in-band via
// the identification header convention, not a distinct blob, so this is
// the encoder's channel/rate pair encoded for the muxer).
func (e *Encoder) CodecConfig() []byte {
	return []byte{CanonicalChannels, byte(CanonicalSampleRate >> 8), byte(CanonicalSampleRate)}
}

// Run drains the mixer in fixed 20ms frames, encoding and delivering each
// through the configured callback, until stopped.
func (e *Encoder) Run() {
	defer close(e.done)

	frameBytes := frameSamples * CanonicalChannels * 2
	pcm := make([]int16, frameSamples*CanonicalChannels)
	opusBuf := make([]byte, 4000)
	ticker := time.NewTicker(frameDurationMs * time.Millisecond / 2)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			raw, pts, ok := e.mixer.ReadTimestamped(frameBytes)
			if !ok {
				continue
			}
			for i := range pcm {
				pcm[i] = int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
			}
			n, err := e.enc.Encode(pcm, opusBuf)
			if err != nil {
				log.Printf("audio/encoder: opus encode: %v", err)
				continue
			}
			data := make([]byte, n)
			copy(data, opusBuf[:n])

			e.onUnit(types.EncodedAudioUnit{
				Data:     data,
				PTS:      pts,
				Duration: types.HNSPerSecond * frameDurationMs / 1000,
			})
		}
	}
}

func (e *Encoder) Stop() {
	close(e.stop)
	<-e.done
}
