package audio

import (
	"encoding/binary"
	"log"
	"sync"
	"time"

	"hotlap/internal/types"
)

// Mixer reads a common, sample-aligned chunk from every active source —
// only once all of them have one available — scales each source by its
// volume, sums, saturates to int16, and writes the result to the mixed
// ring.
type Mixer struct {
	mu      sync.Mutex
	sources []*Source

	mixed *byteRing
	start time.Time

	stop chan struct{}
	done chan struct{}
}

// NewMixer creates a mixer over the given active sources. start is the
// monotonic reference point presentation timestamps are computed against.
func NewMixer(sources []*Source, start time.Time) *Mixer {
	return &Mixer{
		sources: sources,
		mixed:   newByteRing(CanonicalSampleRate * CanonicalChannels * bytesPerSample * mixedRingSeconds),
		start:   start,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run mixes chunks until stopped. It polls at a sub-chunk interval rather
// than blocking, since sources may arrive at different native cadences.
func (m *Mixer) Run() {
	defer close(m.done)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			for m.mixOnce() {
			}
		}
	}
}

// mixOnce mixes a single MixChunkBytes chunk if every source has one
// ready, reporting whether it did so (callers loop to drain backlog).
func (m *Mixer) mixOnce() bool {
	m.mu.Lock()
	sources := m.sources
	m.mu.Unlock()

	if len(sources) == 0 {
		return false
	}

	chunks := make([][]byte, 0, len(sources))
	for _, s := range sources {
		if s.ring.available() < MixChunkBytes {
			return false
		}
	}
	for _, s := range sources {
		chunk, ok := s.ring.tryRead(MixChunkBytes)
		if !ok {
			// Raced with another reader; bail, will retry next tick.
			log.Printf("audio/mixer: source chunk disappeared mid-mix")
			return false
		}
		chunks = append(chunks, chunk)
	}

	out := mixChunks(chunks, sourceVolumes(sources))
	if dropped := m.mixed.write(out); dropped > 0 {
		log.Printf("audio/mixer: mixed ring overflow, dropped %d bytes", dropped)
	}
	return true
}

func sourceVolumes(sources []*Source) []int {
	vols := make([]int, len(sources))
	for i, s := range sources {
		vols[i] = s.Volume()
	}
	return vols
}

// mixChunks sums equal-length int16-LE PCM chunks, each scaled by
// volume/100, and saturates to int16. The sum is deliberately not
// averaged across sources: each source must land in the mix at its own
// configured volume (two half-silent tones on opposite channels come
// out at full per-source amplitude), with saturation as the only
// ceiling.
func mixChunks(chunks [][]byte, volumes []int) []byte {
	n := len(chunks[0]) / 2
	out := make([]byte, len(chunks[0]))

	for i := 0; i < n; i++ {
		var sum float64
		for ci, chunk := range chunks {
			if volumes[ci] == 0 {
				continue
			}
			v := int16(uint16(chunk[i*2]) | uint16(chunk[i*2+1])<<8)
			sum += float64(v) * float64(volumes[ci]) / 100.0
		}
		if sum > 32767 {
			sum = 32767
		} else if sum < -32768 {
			sum = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum)))
	}
	return out
}

// ReadTimestamped returns up to n bytes from the mixed ring along with a
// monotone-non-decreasing presentation timestamp computed from the
// mixer's start time.
func (m *Mixer) ReadTimestamped(n int) ([]byte, types.HNS, bool) {
	data, ok := m.mixed.tryRead(n)
	if !ok {
		return nil, 0, false
	}
	return data, types.FromDuration(time.Since(m.start)), true
}

func (m *Mixer) Stop() {
	close(m.stop)
	<-m.done
}
