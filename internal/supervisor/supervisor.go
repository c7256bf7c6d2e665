// Package supervisor owns a replay session end to end: the capture
// adapter, the encode pipeline, both sample stores and the audio
// subsystem, driven by one coordinator goroutine. The public surface is
// Init/Start/Stop/Save/Status/Shutdown; everything else happens on the
// coordinator.
package supervisor

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"hotlap/internal/config"
	"hotlap/internal/errkind"
	"hotlap/internal/muxer"
	"hotlap/internal/store"
	"hotlap/internal/types"
)

const (
	// MinFramesForSave is how many encoded frames must be buffered before
	// a save request is accepted and before the ready signal fires.
	MinFramesForSave = 30

	// StartReadyTimeout bounds how long Start blocks waiting for the
	// coordinator to buffer MinFramesForSave frames.
	StartReadyTimeout = 5 * time.Second

	// StopJoinTimeout bounds Stop's join. A coordinator wedged past this
	// is abandoned and its encoder resources intentionally leaked (safer
	// than racing a double-free against a live worker).
	StopJoinTimeout = 5 * time.Second

	// SaveTimeout bounds the synchronous Save wrapper.
	SaveTimeout = 30 * time.Second
)

// Supervisor is the capture-encode-save coordinator's handle. Construct
// one with New, then Init/Start it. All methods are safe to call from
// any goroutine; only the coordinator touches the capture adapter, the
// converter and the pipeline's submit entry.
type Supervisor struct {
	captureFactory CaptureFactory
	backendFactory BackendFactory
	audioFactory   AudioSourceFactory
	mux            muxer.Muxer

	state atomic.Int32

	// Per-run signal set: ready and stop are manual-reset
	// (closed channels stay signalled), saveReq and saveComplete are
	// auto-reset (capacity-1 channels drained by their single waiter).
	// Recreated by Start for each run.
	mu           sync.Mutex
	ready        chan struct{}
	saveReq      chan struct{}
	saveComplete chan struct{}
	stop         chan struct{}
	coordDone    chan struct{}
	savePath     string

	frames atomic.Uint64
	saveOK atomic.Bool

	// Live store handles for Status; swapped in at run start under mu.
	videoStore *store.Video
	audioStore *store.Audio
}

// New assembles a supervisor from its collaborator factories. No
// resources are allocated until Init.
func New(captureFactory CaptureFactory, backendFactory BackendFactory, audioFactory AudioSourceFactory, mux muxer.Muxer) *Supervisor {
	s := &Supervisor{
		captureFactory: captureFactory,
		backendFactory: backendFactory,
		audioFactory:   audioFactory,
		mux:            mux,
	}
	s.state.Store(int32(types.StateUninitialized))
	return s
}

// State returns the current coordinator state.
func (s *Supervisor) State() types.SupervisorState {
	return types.SupervisorState(s.state.Load())
}

// transition CASes from → to, reporting whether it won.
func (s *Supervisor) transition(from, to types.SupervisorState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Init allocates the supervisor's event primitives and zeroes its
// counters. It spawns no goroutines.
func (s *Supervisor) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetSignalsLocked()
	s.frames.Store(0)
	s.saveOK.Store(false)
}

func (s *Supervisor) resetSignalsLocked() {
	s.ready = make(chan struct{})
	s.saveReq = make(chan struct{}, 1)
	s.saveComplete = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.coordDone = make(chan struct{})
	s.savePath = ""
}

// Start spawns the coordinator for one run and blocks until it has
// buffered MinFramesForSave frames (up to StartReadyTimeout). On
// success the supervisor is CAPTURING. A supervisor left STALLED or
// ERROR by a previous run may be started again; Start builds a fresh
// pipeline each time.
func (s *Supervisor) Start(cfg config.Config) error {
	if !s.transition(types.StateUninitialized, types.StateStarting) &&
		!s.transition(types.StateStalled, types.StateStarting) &&
		!s.transition(types.StateError, types.StateStarting) {
		return fmt.Errorf("supervisor: start in state %s: %w", s.State(), errkind.InitFailed)
	}
	if !cfg.ReplayEnabled {
		s.state.Store(int32(types.StateUninitialized))
		return fmt.Errorf("supervisor: replay disabled: %w", errkind.InitFailed)
	}
	cfg.Clamp()

	s.mu.Lock()
	s.resetSignalsLocked()
	ready := s.ready
	coordDone := s.coordDone
	s.mu.Unlock()
	s.frames.Store(0)

	go s.coordinator(cfg)

	select {
	case <-ready:
		if !s.transition(types.StateStarting, types.StateCapturing) {
			// Coordinator already moved us to STALLED/ERROR between its
			// ready signal and now; surface that instead of capturing.
			return fmt.Errorf("supervisor: coordinator failed during start (state %s): %w", s.State(), errkind.InitFailed)
		}
		return nil
	case <-coordDone:
		return fmt.Errorf("supervisor: coordinator exited during start (state %s): %w", s.State(), errkind.InitFailed)
	case <-time.After(StartReadyTimeout):
		s.signalStop()
		<-coordDone
		s.state.Store(int32(types.StateError))
		return fmt.Errorf("supervisor: no frames after %v: %w", StartReadyTimeout, errkind.InitFailed)
	}
}

// signalStop raises the manual-reset stop signal exactly once per run.
func (s *Supervisor) signalStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Stop signals the coordinator and joins it with a hard deadline. If
// the coordinator does not come back within StopJoinTimeout it is
// abandoned — its resources are intentionally leaked — and
// errkind.ForcedTermination is returned so the caller can surface the
// leak rather than learning about it from a crash later.
func (s *Supervisor) Stop() error {
	switch s.State() {
	case types.StateUninitialized, types.StateStopping:
		return nil
	}
	s.state.Store(int32(types.StateStopping))

	s.signalStop()
	s.mu.Lock()
	coordDone := s.coordDone
	s.mu.Unlock()

	select {
	case <-coordDone:
		s.state.Store(int32(types.StateUninitialized))
		return nil
	case <-time.After(StopJoinTimeout):
		s.state.Store(int32(types.StateError))
		log.Printf("supervisor: coordinator did not stop within %v, abandoning (encoder resources leaked)", StopJoinTimeout)
		return errkind.ForcedTermination
	}
}

// Shutdown stops the run (if any) and drops the store handles. The
// supervisor may be Init'd and started again afterwards.
func (s *Supervisor) Shutdown() error {
	err := s.Stop()
	s.mu.Lock()
	s.videoStore = nil
	s.audioStore = nil
	s.mu.Unlock()
	return err
}

// Save synchronously commits the current buffer to path. It is rejected
// immediately unless the supervisor is CAPTURING with at least
// MinFramesForSave frames buffered; otherwise it raises the
// save-request signal and blocks on save-complete up to SaveTimeout.
func (s *Supervisor) Save(path string) error {
	if s.State() != types.StateCapturing {
		return fmt.Errorf("supervisor: save in state %s: %w", s.State(), errkind.SaveRejected)
	}
	if s.frames.Load() < MinFramesForSave {
		return fmt.Errorf("supervisor: only %d frames buffered: %w", s.frames.Load(), errkind.SaveRejected)
	}

	s.mu.Lock()
	s.savePath = path
	saveReq := s.saveReq
	saveComplete := s.saveComplete
	s.mu.Unlock()

	// Drain a stale completion left by a previously timed-out save so the
	// auto-reset wait below only sees this request's completion.
	select {
	case <-saveComplete:
	default:
	}
	select {
	case saveReq <- struct{}{}:
	default:
		// A request is already pending; it will pick up the latest path.
	}

	select {
	case <-saveComplete:
		if !s.saveOK.Load() {
			return fmt.Errorf("supervisor: mux failed for %s: %w", path, errkind.SaveFailed)
		}
		return nil
	case <-time.After(SaveTimeout):
		return fmt.Errorf("supervisor: save timed out after %v: %w", SaveTimeout, errkind.SaveFailed)
	}
}

// Frames returns the number of successfully submitted frames this run.
func (s *Supervisor) Frames() uint64 {
	return s.frames.Load()
}

// Status formats the buffering state as a short "Replay: Xs (YMB)"
// string for a status line.
func (s *Supervisor) Status() string {
	s.mu.Lock()
	vs := s.videoStore
	as := s.audioStore
	s.mu.Unlock()

	if vs == nil || s.State() != types.StateCapturing {
		return fmt.Sprintf("Replay: %s", s.State())
	}
	mem := vs.MemoryUsage()
	if as != nil {
		mem += as.MemoryUsage()
	}
	return fmt.Sprintf("Replay: %.0fs (%dMB)", vs.Duration(), mem/(1024*1024))
}
