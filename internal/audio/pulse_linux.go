//go:build linux

package audio

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulseReader implements NativeReader over a PulseAudio monitor (loopback
// capture of an output sink) or a plain input source.
type pulseReader struct {
	client *pulse.Client
	stream *pulse.RecordStream

	collector *pcmCollector

	sampleRate int
	channels   int

	packets chan NativePacket
	stop    chan struct{}
}

// pcmCollector implements pulse.Writer, accumulating raw S16LE bytes as
// they arrive from the PulseAudio server.
type pcmCollector struct {
	mu  sync.Mutex
	buf []byte
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	return len(data), nil
}

func (p *pcmCollector) Format() byte { return proto.FormatInt16LE }

func (p *pcmCollector) drain() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		return nil
	}
	out := p.buf
	p.buf = nil
	return out
}

// NewSinkMonitorReader opens a loopback capture of the default sink's
// monitor — i.e. "what you hear" from speaker/headphone output.
func NewSinkMonitorReader() (NativeReader, error) {
	return newPulseReader(func(c *pulse.Client) (*pulse.RecordStream, *pcmCollector, error) {
		sink, err := c.DefaultSink()
		if err != nil {
			return nil, nil, fmt.Errorf("default sink: %w", err)
		}
		collector := &pcmCollector{}
		stream, err := c.NewRecord(collector,
			pulse.RecordMonitor(sink),
			pulse.RecordStereo,
			pulse.RecordSampleRate(CanonicalSampleRate),
			pulse.RecordBufferFragmentSize(uint32(frameSamples*CanonicalChannels*2)),
		)
		return stream, collector, err
	})
}

// NewMicReader opens direct capture of the default input source (e.g. a
// microphone).
func NewMicReader() (NativeReader, error) {
	return newPulseReader(func(c *pulse.Client) (*pulse.RecordStream, *pcmCollector, error) {
		source, err := c.DefaultSource()
		if err != nil {
			return nil, nil, fmt.Errorf("default source: %w", err)
		}
		collector := &pcmCollector{}
		stream, err := c.NewRecord(collector,
			pulse.RecordSource(source),
			pulse.RecordStereo,
			pulse.RecordSampleRate(CanonicalSampleRate),
			pulse.RecordBufferFragmentSize(uint32(frameSamples*CanonicalChannels*2)),
		)
		return stream, collector, err
	})
}

func newPulseReader(open func(*pulse.Client) (*pulse.RecordStream, *pcmCollector, error)) (NativeReader, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("hotlapd"))
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}

	stream, collector, err := open(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	stream.Start()

	r := &pulseReader{
		client:     client,
		stream:     stream,
		collector:  collector,
		sampleRate: CanonicalSampleRate,
		channels:   CanonicalChannels,
	}
	return r, nil
}

func (r *pulseReader) Read() (NativePacket, error) {
	data := r.collector.drain()
	if data == nil {
		return NativePacket{Silence: true}, nil
	}
	// collector already delivers S16LE; hand the bytes straight through
	// and let decodeNative interpret the format tag below.
	return NativePacket{Data: data}, nil
}

func (r *pulseReader) SampleRate() int      { return r.sampleRate }
func (r *pulseReader) Channels() int        { return r.channels }
func (r *pulseReader) Format() SampleFormat { return FormatS16 }

func (r *pulseReader) Close() {
	r.stream.Stop()
	r.client.Close()
}
