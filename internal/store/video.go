// Package store implements the rolling sample stores: a
// bounded, thread-safe, time-windowed sequence of encoded video or audio
// units that can be snapshotted for muxing while producers keep writing.
package store

import (
	"log"
	"sync"

	"hotlap/internal/errkind"
	"hotlap/internal/types"
)

const (
	// EmergencyKeepFraction drives eviction when an insertion would exceed
	// a store's maximum capacity: the video store keeps this share of
	// maxCapacity as its newest entries, while the audio store drops this
	// share of its live samples from the head.
	EmergencyKeepFraction = 0.75

	videoEvictLogInterval = 100
)

// Video is the encoded-video rolling sample store: a slice-backed deque
// bounded by maxCapacity, with time-based and keyframe-aligned eviction.
type Video struct {
	mu sync.Mutex

	retention   types.HNS
	minCapacity int
	maxCapacity int

	width, height, fps int
	quality            types.Quality

	seqHeader     []byte
	seqHeaderOnce sync.Once

	units []types.EncodedVideoUnit // logical deque; units[start:] is live
	start int
	mem   int

	evictLog *logLimiter
}

// NewVideo creates a video store retaining retentionSeconds of data at the
// given nominal geometry. minCapacity/maxCapacity bound the element count.
func NewVideo(retentionSeconds int, width, height, fps int, quality types.Quality, minCapacity, maxCapacity int) *Video {
	if minCapacity <= 0 {
		minCapacity = 1
	}
	if maxCapacity < minCapacity {
		maxCapacity = minCapacity
	}
	return &Video{
		retention:   types.HNS(retentionSeconds) * types.HNSPerSecond,
		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		width:       width,
		height:      height,
		fps:         fps,
		quality:     quality,
		units:       make([]types.EncodedVideoUnit, 0, minCapacity),
		evictLog:    newLogLimiter(videoEvictLogInterval),
	}
}

// SetSequenceHeader stores the codec's parameter-set bytes. One-shot,
// immutable after the first write.
func (v *Video) SetSequenceHeader(buf []byte) {
	v.seqHeaderOnce.Do(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		v.seqHeader = append([]byte(nil), buf...)
	})
}

// SequenceHeader returns the codec's parameter-set bytes, or nil if not
// yet set.
func (v *Video) SequenceHeader() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seqHeader == nil {
		return nil
	}
	return append([]byte(nil), v.seqHeader...)
}

// Add inserts an encoded video unit, evicting by time (keyframe-aligned)
// and then by capacity.
func (v *Video) Add(unit types.EncodedVideoUnit) error {
	if unit.Data == nil {
		return errkind.AllocationFailure
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.timeEvictLocked(unit.PTS)

	v.units = append(v.units, unit)
	v.mem += len(unit.Data)

	if v.live() > v.maxCapacity {
		v.emergencyEvictLocked()
	}
	v.maybeCompactLocked()
	return nil
}

// live returns the number of units currently retained.
func (v *Video) live() int {
	return len(v.units) - v.start
}

// timeEvictLocked drops units older than the retention window, but never
// leaves a non-keyframe at the front: it advances the cut point forward to
// the next independently decodable unit so a snapshot is always playable
// from its first entry. Caller holds v.mu.
func (v *Video) timeEvictLocked(latest types.HNS) {
	if v.live() == 0 {
		return
	}
	threshold := latest - v.retention
	if threshold <= v.units[v.start].PTS {
		return // nothing is stale yet
	}

	cut := v.start
	for cut < len(v.units) && v.units[cut].PTS < threshold {
		cut++
	}

	newStart := cut
	for newStart < len(v.units) && !v.units[newStart].IsKey {
		newStart++
	}
	if newStart >= len(v.units) {
		// No key frame at or after the cut: fall back to the most recent
		// key frame at or before it, so the store never ends up fronted
		// by a non-decodable unit.
		newStart = v.start
		for i := cut; i > v.start; i-- {
			if v.units[i-1].IsKey {
				newStart = i - 1
				break
			}
		}
	}

	if newStart <= v.start {
		return
	}
	if v.evictLog.allow() {
		log.Printf("store/video: time-evicting %d units (retention=%.1fs)", newStart-v.start, v.retention.Seconds())
	}
	for v.start < newStart {
		v.mem -= len(v.units[v.start].Data)
		v.units[v.start] = types.EncodedVideoUnit{}
		v.start++
	}
}

// emergencyEvictLocked keeps EmergencyKeepFraction of the newest entries
// when the store has grown past maxCapacity, in whole-GOP chunks (i.e. the
// new front is always a keyframe). Caller holds v.mu.
func (v *Video) emergencyEvictLocked() {
	keep := int(float64(v.maxCapacity) * EmergencyKeepFraction)
	if keep < 1 {
		keep = 1
	}
	target := len(v.units) - keep
	if target <= v.start {
		return
	}
	newStart := target
	for newStart < len(v.units) && !v.units[newStart].IsKey {
		newStart++
	}
	if newStart >= len(v.units) {
		// No key frame at or after the cut: fall back to the most recent
		// key frame before it, as timeEvictLocked does.
		newStart = v.start
		for i := target; i > v.start; i-- {
			if v.units[i-1].IsKey {
				newStart = i - 1
				break
			}
		}
	}
	if newStart <= v.start {
		return
	}
	if v.evictLog.allow() {
		log.Printf("store/video: emergency eviction, dropping %d units (capacity=%d)", newStart-v.start, v.maxCapacity)
	}
	for v.start < newStart {
		v.mem -= len(v.units[v.start].Data)
		v.units[v.start] = types.EncodedVideoUnit{}
		v.start++
	}
}

// maybeCompactLocked reclaims the evicted prefix once it dominates the
// backing array, so memory doesn't grow unbounded across a long run.
func (v *Video) maybeCompactLocked() {
	if v.start < 64 || v.start < len(v.units)/2 {
		return
	}
	remaining := make([]types.EncodedVideoUnit, v.live())
	copy(remaining, v.units[v.start:])
	v.units = remaining
	v.start = 0
}

// VideoConfig describes the store's nominal stream geometry, snapshotted
// alongside its units for the muxer.
type VideoConfig struct {
	Width, Height, FPS int
	Quality            types.Quality
	SequenceHeader     []byte
}

// Snapshot deep-copies the store's live units and config under the lock,
// so the producer may keep mutating the store concurrently.
func (v *Video) Snapshot() ([]types.EncodedVideoUnit, VideoConfig) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.EncodedVideoUnit, v.live())
	for i := range out {
		src := v.units[v.start+i]
		out[i] = types.EncodedVideoUnit{
			Data:     append([]byte(nil), src.Data...),
			PTS:      src.PTS,
			Duration: src.Duration,
			IsKey:    src.IsKey,
		}
	}
	cfg := VideoConfig{
		Width:          v.width,
		Height:         v.height,
		FPS:            v.fps,
		Quality:        v.quality,
		SequenceHeader: append([]byte(nil), v.seqHeader...),
	}
	return out, cfg
}

// Duration returns (last.PTS+last.Duration-first.PTS) in seconds, or 0 if empty.
func (v *Video) Duration() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.durationLocked()
}

func (v *Video) durationLocked() float64 {
	if v.live() == 0 {
		return 0
	}
	first := v.units[v.start]
	last := v.units[len(v.units)-1]
	return (last.PTS + last.Duration - first.PTS).Seconds()
}

// MemoryUsage returns the sum of live byte-buffer sizes plus fixed overhead.
func (v *Video) MemoryUsage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	const fixedOverhead = 256
	return v.mem + fixedOverhead
}

// Count returns the number of live units.
func (v *Video) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.live()
}
