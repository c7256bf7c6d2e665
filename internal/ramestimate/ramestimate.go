// Package ramestimate implements the replay buffer's RAM-usage estimate:
// pure functions the UI calls before committing to a
// duration/quality/resolution combination.
package ramestimate

import "hotlap/internal/types"

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BitrateMbps returns the estimated encoded bitrate, in Mbps, for the
// given quality preset, resolution and frame rate, clamped to [10, 150].
func BitrateMbps(quality types.Quality, width, height, fps int) float64 {
	megapixels := float64(width*height) / 1_000_000
	resFactor := clamp(megapixels/3.7, 0.5, 2.5)
	fpsFactor := clamp(float64(fps)/60, 0.5, 4.0)
	return clamp(quality.BaseBitrateMbps()*resFactor*fpsFactor, 10, 150)
}

// EstimateMB returns the expected steady-state memory footprint, in
// megabytes, of a replay buffer holding durationSeconds of video at the
// given resolution, frame rate and quality preset.
func EstimateMB(quality types.Quality, width, height, fps int, durationSeconds float64) float64 {
	return (BitrateMbps(quality, width, height, fps) * durationSeconds) / 8
}
