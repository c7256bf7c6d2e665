package ramestimate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hotlap/internal/types"
)

func TestEstimateMB_ReferencePoint(t *testing.T) {
	// 2560x1440 (~3.7 MP) @ 60fps is the reference resolution/framerate:
	// both factors are ~1.0, so the estimate reduces to base bitrate.
	mb := EstimateMB(types.QualityMedium, 2560, 1440, 60, 60)
	require.InDelta(t, 75*60/8.0, mb, 5)
}

func TestEstimateMB_ScalesWithDuration(t *testing.T) {
	short := EstimateMB(types.QualityMedium, 1920, 1080, 60, 30)
	long := EstimateMB(types.QualityMedium, 1920, 1080, 60, 60)
	require.InDelta(t, short*2, long, 0.01)
}

func TestEstimateMB_HigherQualityCostsMore(t *testing.T) {
	low := EstimateMB(types.QualityLow, 1920, 1080, 60, 60)
	lossless := EstimateMB(types.QualityLossless, 1920, 1080, 60, 60)
	require.Greater(t, lossless, low)
}

func TestEstimateMB_ScaleFactorsClampedToFloor(t *testing.T) {
	// A tiny, low-fps capture has both scale factors clamped to their 0.5
	// minimum: 60 * 0.5 * 0.5 = 15 Mbps, which is above the 10 Mbps
	// bitrate floor.
	mb := EstimateMB(types.QualityLow, 320, 240, 30, 60)
	require.InDelta(t, 15*60/8.0, mb, 0.01)
}

func TestEstimateMB_BitrateClampedToCeiling(t *testing.T) {
	mb := EstimateMB(types.QualityLossless, 7680, 4320, 240, 60)
	require.InDelta(t, 150*60/8.0, mb, 0.01)
}

func TestEstimateMB_ZeroDurationIsZero(t *testing.T) {
	require.Equal(t, 0.0, EstimateMB(types.QualityMedium, 1920, 1080, 60, 0))
}
