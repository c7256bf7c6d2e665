package supervisor

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hotlap/internal/audio"
	"hotlap/internal/config"
	"hotlap/internal/convert"
	"hotlap/internal/errkind"
	"hotlap/internal/muxer"
	"hotlap/internal/pipeline"
	"hotlap/internal/store"
	"hotlap/internal/types"
)

const (
	// stallSeconds is how long a run of consecutive BUSY submits must last
	// before the coordinator gives up and goes STALLED: fps*stallSeconds
	// ticks with no successful submit.
	stallSeconds = 5

	// audioFramesPerSecond is the encoded-audio cadence (20ms Opus
	// frames), used to size the audio store's sample ceiling.
	audioFramesPerSecond = 50
)

// audioRun bundles the per-run audio subsystem: sources, mixer, encoder
// and their worker group.
type audioRun struct {
	sources []*audio.Source
	mixer   *audio.Mixer
	enc     *audio.Encoder
	workers errgroup.Group
}

func (a *audioRun) teardown() {
	if a == nil {
		return
	}
	a.enc.Stop()
	a.mixer.Stop()
	for _, src := range a.sources {
		src.Close()
	}
	a.workers.Wait()
}

// coordinator is the single run loop: it builds the
// capture adapter, the pipeline and the stores, then alternates
// capture-and-encode ticks with event servicing until stop, stall or
// device loss. It is the only goroutine that touches the capture
// adapter, the converter and the pipeline's submit entry.
func (s *Supervisor) coordinator(cfg config.Config) {
	s.mu.Lock()
	ready := s.ready
	saveReq := s.saveReq
	stop := s.stop
	coordDone := s.coordDone
	s.mu.Unlock()
	defer close(coordDone)

	cap, err := s.captureFactory(cfg)
	if err != nil {
		log.Printf("supervisor: capture init: %v", err)
		s.transition(types.StateStarting, types.StateError)
		return
	}
	defer func() { cap.Close() }()

	width, height := cap.Width(), cap.Height()
	fps := cfg.ReplayFPS
	gopFrames := fps * pipeline.GOPLengthSeconds
	if cfg.ReplayAspectRatio != config.AspectRatioNative {
		log.Printf("supervisor: aspect crop %s requested but capture backend has no region support, using native %dx%d",
			cfg.ReplayAspectRatio, width, height)
	}

	backend, err := s.backendFactory(width, height, fps, cfg.Quality, gopFrames)
	if err != nil {
		log.Printf("supervisor: encoder init: %v", err)
		s.transition(types.StateStarting, types.StateError)
		return
	}

	retention := cfg.ReplayDurationSeconds
	videoStore := store.NewVideo(retention, width, height, fps, cfg.Quality,
		fps, retention*fps+2*gopFrames)
	audioStore := store.NewAudio(retention, 256,
		retention*audioFramesPerSecond+audioFramesPerSecond)

	pipe := pipeline.New(backend, fps, func(u types.EncodedVideoUnit) {
		if err := videoStore.Add(u); err != nil {
			log.Printf("supervisor: video store add: %v", err)
		}
	})
	defer pipe.Destroy()
	if hdr := pipe.SequenceHeader(); len(hdr) > 0 {
		videoStore.SetSequenceHeader(hdr)
	}

	var ar *audioRun
	var audioCodecConfig []byte
	if cfg.AudioEnabled {
		ar, audioCodecConfig = s.startAudio(cfg, audioStore)
	}
	defer ar.teardown()

	s.mu.Lock()
	s.videoStore = videoStore
	s.audioStore = audioStore
	s.mu.Unlock()

	conv := convert.Passthrough{}
	period := time.Second / time.Duration(fps)
	runStart := time.Now()
	deadline := runStart
	consecutiveBusy := 0
	grabFails := 0
	readySignalled := false

	for {
		// Event servicing: stop and save are checked every tick, and the
		// pacing wait doubles as the short event-servicing window.
		select {
		case <-stop:
			return
		case <-saveReq:
			s.performSave(videoStore, audioStore, audioCodecConfig)
		default:
		}

		if wait := time.Until(deadline); wait > 0 {
			select {
			case <-stop:
				return
			case <-saveReq:
				s.performSave(videoStore, audioStore, audioCodecConfig)
			case <-time.After(wait):
			}
			continue
		}
		deadline = deadline.Add(period)
		if time.Since(deadline) > 2*period {
			// Too far behind: snap to now rather than burst-submitting a
			// backlog of catch-up frames.
			deadline = time.Now()
		}

		frame, err := cap.Grab()
		if err != nil {
			grabFails++
			if errors.Is(err, errkind.AccessLost) {
				log.Printf("supervisor: capture access lost, reinitializing: %v", err)
				cap.Close()
				cap, err = s.captureFactory(cfg)
				if err != nil {
					log.Printf("supervisor: capture reinit failed: %v", err)
					s.transition(types.StateCapturing, types.StateStalled)
					s.transition(types.StateStarting, types.StateStalled)
					return
				}
			} else if grabFails <= 5 {
				log.Printf("supervisor: grab failed: %v", err)
			}
			continue
		}

		converted, err := conv.Convert(frame)
		if err != nil {
			log.Printf("supervisor: convert failed: %v", err)
			continue
		}

		pts := frame.Capture
		if pts == 0 {
			pts = types.FromDuration(time.Since(runStart))
		}

		switch pipe.Submit(converted, pts) {
		case pipeline.SubmitOK:
			consecutiveBusy = 0
			if hdr := pipe.SequenceHeader(); len(hdr) > 0 {
				videoStore.SetSequenceHeader(hdr)
			}
			if s.frames.Add(1) >= MinFramesForSave && !readySignalled {
				readySignalled = true
				close(ready)
			}
		case pipeline.SubmitBusy:
			consecutiveBusy++
			if consecutiveBusy >= fps*stallSeconds {
				log.Printf("supervisor: no successful submit for %ds, stalling", stallSeconds)
				s.transition(types.StateCapturing, types.StateStalled)
				s.transition(types.StateStarting, types.StateStalled)
				return
			}
		case pipeline.SubmitDeviceLost:
			log.Printf("supervisor: encode device lost, stalling")
			s.transition(types.StateCapturing, types.StateStalled)
			s.transition(types.StateStarting, types.StateStalled)
			return
		}
	}
}

// startAudio builds the per-run audio subsystem from the configured
// sources. Audio failure is never fatal to the run: a nil audioRun just
// means the save path writes video-only files.
func (s *Supervisor) startAudio(cfg config.Config, audioStore *store.Audio) (*audioRun, []byte) {
	if s.audioFactory == nil {
		return nil, nil
	}
	sources, err := s.audioFactory(cfg)
	if err != nil {
		log.Printf("supervisor: audio init failed, continuing without audio: %v", err)
		return nil, nil
	}
	if len(sources) == 0 {
		return nil, nil
	}

	ar := &audioRun{sources: sources}
	ar.mixer = audio.NewMixer(sources, time.Now())
	ar.enc, err = audio.NewEncoder(ar.mixer, func(u types.EncodedAudioUnit) {
		if err := audioStore.Add(u); err != nil {
			log.Printf("supervisor: audio store add: %v", err)
		}
	})
	if err != nil {
		log.Printf("supervisor: audio encoder init failed, continuing without audio: %v", err)
		for _, src := range sources {
			src.Close()
		}
		return nil, nil
	}

	for _, src := range sources {
		src := src
		ar.workers.Go(func() error { src.Run(); return nil })
	}
	ar.workers.Go(func() error { ar.mixer.Run(); return nil })
	ar.workers.Go(func() error { ar.enc.Run(); return nil })
	return ar, ar.enc.CodecConfig()
}

// performSave runs on the coordinator: snapshot both stores, renormalise
// audio so its earliest sample is t=0, hand both to the muxer, record
// the outcome and raise save-complete.
func (s *Supervisor) performSave(videoStore *store.Video, audioStore *store.Audio, audioCodecConfig []byte) {
	s.mu.Lock()
	path := s.savePath
	saveComplete := s.saveComplete
	s.mu.Unlock()

	saveID := uuid.NewString()[:8]
	t0 := time.Now()

	video, vcfg := videoStore.Snapshot()
	ok := false
	if len(video) == 0 {
		log.Printf("supervisor: save %s: empty video snapshot", saveID)
	} else {
		mcfg := muxer.VideoConfig{
			Width:          vcfg.Width,
			Height:         vcfg.Height,
			FPS:            vcfg.FPS,
			SequenceHeader: vcfg.SequenceHeader,
		}
		audioUnits := store.RenormalizeToZero(audioStore.Snapshot())
		var err error
		if len(audioUnits) > 0 {
			err = s.mux.WriteVideoAudio(path, video, mcfg, audioUnits, muxer.AudioConfig{
				SampleRate:  audio.CanonicalSampleRate,
				Channels:    audio.CanonicalChannels,
				Bitrate:     192_000,
				CodecConfig: audioCodecConfig,
			})
		} else {
			err = s.mux.WriteVideo(path, video, mcfg)
		}
		if err != nil {
			log.Printf("supervisor: save %s failed: %v", saveID, err)
		} else {
			ok = true
			log.Printf("supervisor: save %s wrote %s (%d video units, %.1fs) in %v",
				saveID, path, len(video), videoStore.Duration(), time.Since(t0).Round(time.Millisecond))
		}
	}

	s.saveOK.Store(ok)
	select {
	case saveComplete <- struct{}{}:
	default:
	}
}
