package store

import (
	"log"
	"sync"

	"hotlap/internal/errkind"
	"hotlap/internal/types"
)

const (
	// GrowthFactor is the geometric growth factor for the audio store's
	// backing array.
	GrowthFactor = 2

	audioEvictLogInterval = 300
)

// Audio is the encoded-audio rolling sample store: a geometrically
// growing array bounded by maxSamples, with the same time-eviction window
// as the video store but no keyframe constraint.
type Audio struct {
	mu sync.Mutex

	retention  types.HNS
	maxSamples int

	units []types.EncodedAudioUnit
	start int
	mem   int

	evictLog *logLimiter
}

// NewAudio creates an audio store retaining retentionSeconds of data,
// with an initial backing capacity and a hard ceiling on sample count.
func NewAudio(retentionSeconds int, initialCapacity, maxSamples int) *Audio {
	if initialCapacity <= 0 {
		initialCapacity = 64
	}
	if maxSamples < initialCapacity {
		maxSamples = initialCapacity
	}
	return &Audio{
		retention:  types.HNS(retentionSeconds) * types.HNSPerSecond,
		maxSamples: maxSamples,
		units:      make([]types.EncodedAudioUnit, 0, initialCapacity),
		evictLog:   newLogLimiter(audioEvictLogInterval),
	}
}

func (a *Audio) live() int {
	return len(a.units) - a.start
}

// Add inserts an encoded audio unit, time-evicting first, then growing the
// backing array (factor GrowthFactor) up to maxSamples, and finally
// emergency-evicting EmergencyKeepFraction of the oldest samples if the
// ceiling is hit.
func (a *Audio) Add(unit types.EncodedAudioUnit) error {
	if unit.Data == nil {
		return errkind.AllocationFailure
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timeEvictLocked(unit.PTS)
	a.growIfNeededLocked()

	if a.live() >= a.maxSamples {
		a.emergencyEvictLocked()
	}

	a.units = append(a.units, unit)
	a.mem += len(unit.Data)
	a.maybeCompactLocked()
	return nil
}

func (a *Audio) timeEvictLocked(latest types.HNS) {
	if a.live() == 0 {
		return
	}
	threshold := latest - a.retention
	evicted := 0
	for a.live() > 0 && a.units[a.start].PTS < threshold {
		a.mem -= len(a.units[a.start].Data)
		a.units[a.start] = types.EncodedAudioUnit{}
		a.start++
		evicted++
	}
	if evicted > 0 && a.evictLog.allow() {
		log.Printf("store/audio: time-evicted %d samples (retention=%.1fs)", evicted, a.retention.Seconds())
	}
}

// growIfNeededLocked doubles the backing array's capacity (up to
// maxSamples) when the live region is about to outgrow it, instead of
// relying on append's implicit doubling (which never shrinks back after
// compaction).
func (a *Audio) growIfNeededLocked() {
	if len(a.units) < cap(a.units) {
		return
	}
	newCap := cap(a.units) * GrowthFactor
	if newCap > a.maxSamples {
		newCap = a.maxSamples
	}
	if newCap <= cap(a.units) {
		return
	}
	grown := make([]types.EncodedAudioUnit, len(a.units), newCap)
	copy(grown, a.units)
	a.units = grown
}

func (a *Audio) emergencyEvictLocked() {
	n := a.live()
	drop := int(float64(n) * EmergencyKeepFraction)
	if drop < 1 {
		drop = 1
	}
	if drop > n {
		drop = n
	}
	if a.evictLog.allow() {
		log.Printf("store/audio: emergency eviction, dropping %d of %d samples (max=%d)", drop, n, a.maxSamples)
	}
	for i := 0; i < drop; i++ {
		a.mem -= len(a.units[a.start].Data)
		a.units[a.start] = types.EncodedAudioUnit{}
		a.start++
	}
}

func (a *Audio) maybeCompactLocked() {
	if a.start < 64 || a.start < len(a.units)/2 {
		return
	}
	remaining := make([]types.EncodedAudioUnit, a.live(), cap(a.units))
	copy(remaining, a.units[a.start:])
	a.units = remaining
	a.start = 0
}

// AudioConfig describes the canonical encoded-audio stream geometry.
type AudioConfig struct {
	SampleRate int
	Channels   int
	Bitrate    int
	CodecConfig []byte
}

// Snapshot deep-copies the store's live units with their timestamps
// unchanged; the save path renormalises the copy so its earliest sample
// is t=0.
func (a *Audio) Snapshot() []types.EncodedAudioUnit {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.EncodedAudioUnit, a.live())
	for i := range out {
		src := a.units[a.start+i]
		out[i] = types.EncodedAudioUnit{
			Data:     append([]byte(nil), src.Data...),
			PTS:      src.PTS,
			Duration: src.Duration,
		}
	}
	return out
}

// Duration returns (last.PTS+last.Duration-first.PTS) in seconds, or 0 if empty.
func (a *Audio) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live() == 0 {
		return 0
	}
	first := a.units[a.start]
	last := a.units[len(a.units)-1]
	return (last.PTS + last.Duration - first.PTS).Seconds()
}

// MemoryUsage returns the sum of live byte-buffer sizes plus fixed overhead.
func (a *Audio) MemoryUsage() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	const fixedOverhead = 128
	return a.mem + fixedOverhead
}

// Count returns the number of live units.
func (a *Audio) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live()
}

// RenormalizeToZero returns a copy of units with PTS shifted so the first
// unit's timestamp is 0 for the save path.
func RenormalizeToZero(units []types.EncodedAudioUnit) []types.EncodedAudioUnit {
	if len(units) == 0 {
		return units
	}
	base := units[0].PTS
	out := make([]types.EncodedAudioUnit, len(units))
	for i, u := range units {
		out[i] = u
		out[i].PTS = u.PTS - base
	}
	return out
}
