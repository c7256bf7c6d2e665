package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSource(volume int) *Source {
	s := &Source{
		name:   "test",
		ring:   newByteRing(MixChunkBytes * 4),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.SetVolume(volume)
	return s
}

func fillInt16(n int, v int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestMixer_SingleSourceNoAveraging(t *testing.T) {
	s := newTestSource(100)
	s.ring.write(fillInt16(MixChunkBytes/2, 1000))

	m := NewMixer([]*Source{s}, time.Now())
	require.True(t, m.mixOnce())

	data, _, ok := m.ReadTimestamped(MixChunkBytes)
	require.True(t, ok)
	v := int16(binary.LittleEndian.Uint16(data[0:2]))
	require.Equal(t, int16(1000), v)
}

func TestMixer_TwoSourcesSumAtFullPerSourceAmplitude(t *testing.T) {
	s1 := newTestSource(100)
	s2 := newTestSource(100)
	s1.ring.write(fillInt16(MixChunkBytes/2, 1000))
	s2.ring.write(fillInt16(MixChunkBytes/2, 3000))

	m := NewMixer([]*Source{s1, s2}, time.Now())
	require.True(t, m.mixOnce())

	data, _, ok := m.ReadTimestamped(MixChunkBytes)
	require.True(t, ok)
	v := int16(binary.LittleEndian.Uint16(data[0:2]))
	require.Equal(t, int16(4000), v, "sources sum at their own volume, no per-source averaging")
}

func TestMixer_WaitsForAllSourcesBeforeMixing(t *testing.T) {
	s1 := newTestSource(100)
	s2 := newTestSource(100)
	s1.ring.write(fillInt16(MixChunkBytes/2, 1000))
	// s2 has nothing yet.

	m := NewMixer([]*Source{s1, s2}, time.Now())
	require.False(t, m.mixOnce())
}

func TestMixer_VolumeScalingAndSaturation(t *testing.T) {
	s := newTestSource(400) // boosted
	s.ring.write(fillInt16(MixChunkBytes/2, 20000))

	m := NewMixer([]*Source{s}, time.Now())
	require.True(t, m.mixOnce())

	data, _, ok := m.ReadTimestamped(MixChunkBytes)
	require.True(t, ok)
	v := int16(binary.LittleEndian.Uint16(data[0:2]))
	require.Equal(t, int16(32767), v, "400% of 20000 must saturate to int16 max")
}

func TestMixer_TimestampsAreMonotone(t *testing.T) {
	s := newTestSource(100)
	m := NewMixer([]*Source{s}, time.Now())

	s.ring.write(fillInt16(MixChunkBytes/2, 1))
	m.mixOnce()
	_, t1, ok := m.ReadTimestamped(MixChunkBytes)
	require.True(t, ok)

	time.Sleep(2 * time.Millisecond)
	s.ring.write(fillInt16(MixChunkBytes/2, 1))
	m.mixOnce()
	_, t2, ok := m.ReadTimestamped(MixChunkBytes)
	require.True(t, ok)

	require.GreaterOrEqual(t, int64(t2), int64(t1))
}
