package supervisor

import (
	"hotlap/internal/audio"
	"hotlap/internal/capture"
	"hotlap/internal/config"
	"hotlap/internal/pipeline"
	"hotlap/internal/types"
)

// CaptureFactory builds the desktop capture adapter for a run. The
// concrete choice (NvFBC/CUDA vs. XShm/CPU) is a platform decision made
// by the caller assembling a Supervisor, not by the supervisor itself.
type CaptureFactory func(cfg config.Config) (capture.Adapter, error)

// BackendFactory builds the hardware encode backend once the capture
// adapter's geometry is known.
type BackendFactory func(width, height, fps int, quality types.Quality, gopFrames int) (pipeline.Backend, error)

// AudioSourceFactory builds the set of active audio sources named by
// cfg's audio_source1..3 settings, or returns an empty slice if audio
// is unavailable. A non-nil error here is logged and treated as
// audio-disabled-for-this-run rather than a fatal start error.
type AudioSourceFactory func(cfg config.Config) ([]*audio.Source, error)
