package main

import (
	"fmt"
	"log"
	"sync"

	"hotlap/internal/audio"
	"hotlap/internal/capture"
	"hotlap/internal/config"
)

// lastAdapter is the adapter built by the most recent newCaptureAdapter
// call. The coordinator always builds capture before the encoder, so the
// Linux backend factory can read it here to share the capture's CUDA
// context with NVENC.
var (
	adapterMu   sync.Mutex
	lastAdapter capture.Adapter
)

func newCaptureAdapter(cfg config.Config) (capture.Adapter, error) {
	var ad capture.Adapter
	nv, err := capture.NewNvFBCCapturer(cfg.ReplayFPS, "")
	if err == nil {
		ad = nv
	} else {
		log.Printf("NvFBC unavailable (%v), trying XShm", err)
		xs, err2 := capture.NewXshmCapturer("")
		if err2 != nil {
			return nil, fmt.Errorf("no capture backend available: %w", err2)
		}
		ad = xs
	}

	adapterMu.Lock()
	lastAdapter = ad
	adapterMu.Unlock()
	return ad, nil
}

// newAudioSources maps the audio_source1..3 settings to capture workers.
// Recognized source IDs: "monitor" (loopback capture of the default
// output sink) and "mic" (default input device). Unavailable or
// unrecognized sources are skipped, never fatal.
func newAudioSources(cfg config.Config) ([]*audio.Source, error) {
	slots := []struct {
		id  string
		vol int
	}{
		{cfg.AudioSource1, cfg.AudioVolume1},
		{cfg.AudioSource2, cfg.AudioVolume2},
		{cfg.AudioSource3, cfg.AudioVolume3},
	}

	var sources []*audio.Source
	for i, sl := range slots {
		if sl.id == "" {
			continue
		}
		var (
			reader audio.NativeReader
			err    error
		)
		switch sl.id {
		case "monitor", "desktop":
			reader, err = audio.NewSinkMonitorReader()
		case "mic", "microphone":
			reader, err = audio.NewMicReader()
		default:
			log.Printf("audio_source%d: unrecognized source %q, skipping", i+1, sl.id)
			continue
		}
		if err != nil {
			log.Printf("audio_source%d: open %q: %v, skipping", i+1, sl.id, err)
			continue
		}
		sources = append(sources, audio.NewSource(fmt.Sprintf("%d:%s", i+1, sl.id), reader, sl.vol))
	}
	return sources, nil
}
