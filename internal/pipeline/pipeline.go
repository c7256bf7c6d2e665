package pipeline

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"hotlap/internal/errkind"
	"hotlap/internal/types"
)

// GOPLengthSeconds is the keyframe interval; gop = fps * GOPLengthSeconds.
const GOPLengthSeconds = 2

// Pipeline is the encode ring: a fixed number
// of slots handed off between the capture/convert producer and a single
// output-worker consumer backed by a hardware encoder.
type Pipeline struct {
	backend Backend
	slots   [NumSlots]*slot

	fps       int
	gopFrames int

	mu          sync.Mutex // guards submitIndex/pending's read-then-act window
	submitIndex int
	retrieveIndex int
	pending     atomic.Int32
	frameNumber atomic.Uint64

	deviceLost atomic.Bool
	busyLog    *logLimiter

	onUnit func(types.EncodedVideoUnit)

	stopCh     chan struct{}
	workerDone chan struct{}
}

// New creates a pipeline around backend, starting its output worker.
// onUnit is invoked from the output worker goroutine for every retrieved
// bitstream unit — callers must not block in it for long.
func New(backend Backend, fps int, onUnit func(types.EncodedVideoUnit)) *Pipeline {
	p := &Pipeline{
		backend:    backend,
		fps:        fps,
		gopFrames:  fps * GOPLengthSeconds,
		busyLog:    newLogLimiter(200),
		onUnit:     onUnit,
		stopCh:     make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	if p.gopFrames <= 0 {
		p.gopFrames = 1
	}
	for i := range p.slots {
		p.slots[i] = newSlot(i)
	}
	go p.outputWorker()
	return p
}

// SubmitResult is the tri-state outcome of Submit.
type SubmitResult int

const (
	SubmitOK SubmitResult = iota
	SubmitBusy
	SubmitDeviceLost
)

// Submit hands a converted frame to the encoder, never blocking beyond
// MutexAcquireTimeout. Transient contention returns SubmitBusy; a lost
// device returns SubmitDeviceLost, sticky until the pipeline is
// recreated.
func (p *Pipeline) Submit(frame *types.ConvertedFrame, pts types.HNS) SubmitResult {
	if p.deviceLost.Load() {
		return SubmitDeviceLost
	}

	p.mu.Lock()
	if int(p.pending.Load()) >= NumSlots {
		p.mu.Unlock()
		if p.busyLog.allow() {
			log.Printf("pipeline: ring full (pending>=%d), dropping frame", NumSlots)
		}
		return SubmitBusy
	}
	idx := p.submitIndex
	p.mu.Unlock()

	s := p.slots[idx]
	select {
	case <-s.free:
		// producer-side key acquired
	case <-time.After(MutexAcquireTimeout):
		if p.busyLog.allow() {
			log.Printf("pipeline: slot %d acquire timed out", idx)
		}
		return SubmitBusy
	}

	frameNum := p.frameNumber.Load()
	forceIDR := frameNum%uint64(p.gopFrames) == 0
	duration := types.HNSPerSecond / types.HNS(p.fps)

	if err := p.backend.Submit(idx, frame, pts, duration, forceIDR); err != nil {
		s.free <- struct{}{} // return the slot; nothing was enqueued
		if isDeviceLost(err) {
			p.deviceLost.Store(true)
			return SubmitDeviceLost
		}
		if p.busyLog.allow() {
			log.Printf("pipeline: submit failed on slot %d: %v", idx, err)
		}
		return SubmitBusy
	}

	s.pts = pts
	s.duration = duration
	s.forceIDR = forceIDR

	p.mu.Lock()
	p.submitIndex = (idx + 1) % NumSlots
	p.mu.Unlock()
	p.pending.Add(1)
	p.frameNumber.Add(1)

	s.ready <- struct{}{} // hand off to the output worker
	return SubmitOK
}

// outputWorker retrieves completed bitstreams strictly in submission
// order (slot indices are visited in the same round-robin sequence they
// were assigned), deep-copies them out, and invokes the callback.
func (p *Pipeline) outputWorker() {
	defer close(p.workerDone)
	for {
		idx := p.retrieveIndex
		s := p.slots[idx]

		select {
		case <-p.stopCh:
			return
		case <-s.ready:
			// fall through to retrieve
		case <-time.After(EventWaitTimeout):
			continue
		}

		data, isKey, err := p.backend.Retrieve(idx)
		if err != nil {
			if isDeviceLost(err) {
				p.deviceLost.Store(true)
				log.Printf("pipeline: device lost during retrieve on slot %d", idx)
				return
			}
			log.Printf("pipeline: retrieve failed on slot %d: %v", idx, err)
		}

		pts, dur := s.pts, s.duration // read before the producer can reuse the slot
		p.retrieveIndex = (idx + 1) % NumSlots
		p.pending.Add(-1)
		s.free <- struct{}{} // free the slot for the next producer

		if err == nil && data != nil {
			unit := types.EncodedVideoUnit{
				Data:     append([]byte(nil), data...),
				PTS:      pts,
				Duration: dur,
				IsKey:    isKey,
			}
			p.onUnit(unit)
		}
	}
}

// SequenceHeader returns the codec's parameter-set bytes once available.
func (p *Pipeline) SequenceHeader() []byte {
	return p.backend.SequenceHeader()
}

// Pending returns the number of frames currently in flight.
func (p *Pipeline) Pending() int {
	return int(p.pending.Load())
}

// DeviceLost reports whether the backend has hit a sticky device-loss
// condition; the supervisor must tear down and recreate the pipeline.
func (p *Pipeline) DeviceLost() bool {
	return p.deviceLost.Load()
}

// Destroy stops the output worker and releases the backend. Closing
// stopCh wakes a worker waiting on a slot's ready channel at once, so it
// does not wait out EventWaitTimeout; a Retrieve already in progress runs
// to completion first.
func (p *Pipeline) Destroy() {
	close(p.stopCh)
	<-p.workerDone
	p.backend.Close()
}

func isDeviceLost(err error) bool {
	return errors.Is(err, errkind.DeviceLost) || errors.Is(err, errkind.AccessLost)
}
