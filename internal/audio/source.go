// Package audio implements the multi-source audio capture, resample and
// mix pipeline: up to three devices captured independently,
// each resampled to a canonical PCM format, summed sample-accurately by a
// single mixer, and encoded to Opus for the audio sample store.
package audio

import (
	"log"
	"math"
	"sync/atomic"
	"time"
)

const (
	// CanonicalSampleRate, CanonicalChannels and bytesPerSample describe
	// the common format every source is resampled into before mixing.
	CanonicalSampleRate = 48000
	CanonicalChannels   = 2
	bytesPerSample      = 2

	sourceRingSeconds = 2
	mixedRingSeconds  = 5

	// MixChunkBytes is the sample-aligned chunk the mixer reads from every
	// active source at once.
	MixChunkBytes = 4096

	// AudioVolumeMax is the upper bound for a source's volume percentage
	// (100 = unity gain, up to 400 for quiet-source boost).
	AudioVolumeMax = 400

	// AudioPollInterval is the source worker's suspension point: how long
	// it waits after draining the device dry before polling it again.
	AudioPollInterval = 10 * time.Millisecond
)

// SampleFormat enumerates the native PCM encodings a capture device may
// expose.
type SampleFormat int

const (
	FormatS16 SampleFormat = iota
	FormatS24Packed
	FormatS32
	FormatFloat32
)

// NativePacket is one chunk of audio pulled from a device in its native
// format. Silence is represented explicitly so the source worker can emit
// zero-valued canonical output of the correct size instead of stalling.
type NativePacket struct {
	Data    []byte
	Silence bool
}

// NativeReader is implemented by a platform-specific device backend
// (PulseAudio loopback/monitor capture on Linux; Darwin has no backend
// and its constructors report InitFailed). Read does not block: when the
// device has nothing buffered it returns a packet with Silence set.
type NativeReader interface {
	Read() (NativePacket, error)
	SampleRate() int
	Channels() int
	Format() SampleFormat
	Close()
}

// Source captures one device end-to-end: native read, decode, resample to
// canonical PCM, volume scaling applied at mix time, and buffering in its
// own ring so mismatched device cadences don't stall each other.
type Source struct {
	name   string
	reader NativeReader
	ring   *byteRing
	volume atomic.Int32 // percent, 0..AudioVolumeMax

	resampler *linearResampler

	stop chan struct{}
	done chan struct{}
}

// NewSource wraps a native reader with resampling and ring buffering.
// initialVolume is a percentage (100 = unity).
func NewSource(name string, reader NativeReader, initialVolume int) *Source {
	s := &Source{
		name:   name,
		reader: reader,
		ring:   newByteRing(CanonicalSampleRate * CanonicalChannels * bytesPerSample * sourceRingSeconds),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.resampler = newLinearResampler(reader.SampleRate(), CanonicalSampleRate, reader.Channels())
	s.SetVolume(initialVolume)
	return s
}

// SetVolume updates the source's mix gain, clamped to [0, AudioVolumeMax].
func (s *Source) SetVolume(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > AudioVolumeMax {
		percent = AudioVolumeMax
	}
	s.volume.Store(int32(percent))
}

func (s *Source) Volume() int { return int(s.volume.Load()) }

// Run pulls native packets until stopped, converting each to canonical
// stereo/16-bit/48kHz PCM and depositing it in the source's ring. When
// the device has nothing buffered it waits out AudioPollInterval and
// emits exactly one interval's worth of silence, so an idle device keeps
// the canonical timeline advancing without spinning a core.
func (s *Source) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		pkt, err := s.reader.Read()
		if err != nil {
			log.Printf("audio/source[%s]: read error: %v", s.name, err)
			return
		}
		if pkt.Silence {
			// Device dry: wait out the poll interval, then re-check so
			// data that arrived during the wait isn't displaced by
			// synthesized padding.
			select {
			case <-s.stop:
				return
			case <-time.After(AudioPollInterval):
			}
			if pkt, err = s.reader.Read(); err != nil {
				log.Printf("audio/source[%s]: read error: %v", s.name, err)
				return
			}
		}

		var canonical []byte
		if pkt.Silence {
			canonical = make([]byte, silenceBytesPerPoll)
		} else {
			mono := decodeNative(pkt.Data, s.reader.Format(), s.reader.Channels())
			canonical = s.resampler.resample(mono)
		}

		if dropped := s.ring.write(canonical); dropped > 0 {
			log.Printf("audio/source[%s]: ring overflow, dropped %d bytes", s.name, dropped)
		}
	}
}

// silenceBytesPerPoll is one AudioPollInterval of canonical PCM.
const silenceBytesPerPoll = CanonicalSampleRate * CanonicalChannels * bytesPerSample *
	int(AudioPollInterval) / int(time.Second)

func (s *Source) Close() {
	close(s.stop)
	<-s.done
	s.reader.Close()
}

// decodeNative converts a raw native-format packet into interleaved
// float64 samples scaled to the int16 range, duplicating mono to stereo
// and truncating anything beyond stereo to its first two channels.
func decodeNative(data []byte, format SampleFormat, channels int) []float64 {
	var frameSamples []float64
	switch format {
	case FormatS16:
		frameSamples = make([]float64, len(data)/2)
		for i := range frameSamples {
			v := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
			frameSamples[i] = float64(v)
		}
	case FormatS24Packed:
		frameSamples = make([]float64, len(data)/3)
		for i := range frameSamples {
			raw := int32(data[i*3]) | int32(data[i*3+1])<<8 | int32(data[i*3+2])<<16
			if raw&0x800000 != 0 {
				raw |= ^int32(0xFFFFFF)
			}
			frameSamples[i] = float64(raw) / 256.0
		}
	case FormatS32:
		frameSamples = make([]float64, len(data)/4)
		for i := range frameSamples {
			raw := int32(uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24)
			frameSamples[i] = float64(raw) / 65536.0
		}
	case FormatFloat32:
		frameSamples = make([]float64, len(data)/4)
		for i := range frameSamples {
			bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
			frameSamples[i] = float64(math.Float32frombits(bits)) * 32767.0
		}
	default:
		frameSamples = nil
	}

	if channels == CanonicalChannels || len(frameSamples) == 0 {
		return frameSamples
	}
	if channels == 1 {
		stereo := make([]float64, len(frameSamples)*2)
		for i, v := range frameSamples {
			stereo[2*i] = v
			stereo[2*i+1] = v
		}
		return stereo
	}
	// channels > 2: keep the first two channels of each frame.
	frames := len(frameSamples) / channels
	stereo := make([]float64, frames*2)
	for f := 0; f < frames; f++ {
		stereo[2*f] = frameSamples[f*channels]
		stereo[2*f+1] = frameSamples[f*channels+1]
	}
	return stereo
}

