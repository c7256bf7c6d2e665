package store

import (
	"testing"

	"hotlap/internal/types"

	"github.com/stretchr/testify/require"
)

func TestAudioStore_TimeEvictionKeepsFrontWithinRetention(t *testing.T) {
	a := NewAudio(5, 16, 4096)
	const frameDur = types.HNSPerSecond / 50 // 20ms opus frames

	var pts types.HNS
	for i := 0; i < 50*20; i++ { // 20 seconds of 20ms frames
		require.NoError(t, a.Add(types.EncodedAudioUnit{Data: []byte{1, 2}, PTS: pts, Duration: frameDur}))
		pts += frameDur
	}

	d := a.Duration()
	require.LessOrEqual(t, d, 5.0+0.02)
}

func TestAudioStore_SnapshotDeepCopy(t *testing.T) {
	a := NewAudio(5, 4, 256)
	require.NoError(t, a.Add(types.EncodedAudioUnit{Data: []byte{9, 9}, PTS: 0, Duration: 100}))

	snap := a.Snapshot()
	snap[0].Data[0] = 0

	snap2 := a.Snapshot()
	require.Equal(t, byte(9), snap2[0].Data[0])
}

func TestAudioStore_GrowsGeometricallyUpToMax(t *testing.T) {
	a := NewAudio(600, 4, 32)
	for i := 0; i < 40; i++ {
		require.NoError(t, a.Add(types.EncodedAudioUnit{Data: []byte{byte(i)}, PTS: types.HNS(i) * 1000, Duration: 1000}))
	}
	require.LessOrEqual(t, a.Count(), 32)
}

func TestRenormalizeToZero(t *testing.T) {
	units := []types.EncodedAudioUnit{
		{PTS: 500, Duration: 100},
		{PTS: 600, Duration: 100},
	}
	out := RenormalizeToZero(units)
	require.Equal(t, types.HNS(0), out[0].PTS)
	require.Equal(t, types.HNS(100), out[1].PTS)
}
