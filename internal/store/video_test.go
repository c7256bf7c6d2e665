package store

import (
	"testing"

	"hotlap/internal/types"

	"github.com/stretchr/testify/require"
)

func gopUnits(n int, gop int, startPTS types.HNS, frameDur types.HNS) []types.EncodedVideoUnit {
	units := make([]types.EncodedVideoUnit, n)
	for i := 0; i < n; i++ {
		units[i] = types.EncodedVideoUnit{
			Data:     []byte{byte(i), byte(i >> 8)},
			PTS:      startPTS + types.HNS(i)*frameDur,
			Duration: frameDur,
			IsKey:    i%gop == 0,
		}
	}
	return units
}

func TestVideoStore_DurationWithinRetentionPlusOneGOP(t *testing.T) {
	const fps = 60
	const gop = fps * 2
	frameDur := types.HNSPerSecond / fps

	v := NewVideo(15, 1920, 1080, fps, types.QualityHigh, fps, 15*fps*2)

	total := 40 * fps // 40 seconds of frames
	units := gopUnits(total, gop, 0, frameDur)
	for _, u := range units {
		require.NoError(t, v.Add(u))
	}

	d := v.Duration()
	require.LessOrEqual(t, d, 15.0+float64(gop)/float64(fps))
	require.Greater(t, d, 10.0)
}

func TestVideoStore_SnapshotOldestUnitIsKey(t *testing.T) {
	const fps = 30
	const gop = fps * 2
	frameDur := types.HNSPerSecond / fps

	v := NewVideo(5, 1280, 720, fps, types.QualityMedium, fps, 5*fps*2)
	units := gopUnits(20*fps, gop, 0, frameDur)
	for _, u := range units {
		require.NoError(t, v.Add(u))
	}

	snap, _ := v.Snapshot()
	require.NotEmpty(t, snap)
	require.True(t, snap[0].IsKey, "oldest retained unit must be independently decodable")
}

func TestVideoStore_SnapshotIsDeepCopyAndIsolated(t *testing.T) {
	v := NewVideo(5, 640, 480, 30, types.QualityLow, 30, 300)
	require.NoError(t, v.Add(types.EncodedVideoUnit{Data: []byte{1, 2, 3}, PTS: 0, Duration: 1000, IsKey: true}))

	snap, _ := v.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Data[0] = 0xFF

	snap2, _ := v.Snapshot()
	require.Equal(t, byte(1), snap2[0].Data[0], "mutating a snapshot must not affect the live store")
}

func TestVideoStore_CapacityBounded(t *testing.T) {
	const fps = 240
	const gop = fps * 2
	frameDur := types.HNSPerSecond / fps
	maxCap := 300

	v := NewVideo(1, 1920, 1080, fps, types.QualityHigh, fps, maxCap)
	units := gopUnits(5*fps, gop, 0, frameDur)
	for _, u := range units {
		require.NoError(t, v.Add(u))
	}

	count := v.Count()
	require.GreaterOrEqual(t, count, fps)
	require.LessOrEqual(t, count, maxCap)
}

func TestVideoStore_SequenceHeaderOneShot(t *testing.T) {
	v := NewVideo(5, 640, 480, 30, types.QualityLow, 30, 300)
	v.SetSequenceHeader([]byte{0xAA, 0xBB})
	v.SetSequenceHeader([]byte{0xCC}) // ignored: one-shot

	require.Equal(t, []byte{0xAA, 0xBB}, v.SequenceHeader())
}
