package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hotlap/internal/types"
)

func TestClamp_DurationSeconds(t *testing.T) {
	c := Default()
	c.ReplayDurationSeconds = 5000
	c.Clamp()
	require.Equal(t, 1200, c.ReplayDurationSeconds)

	c.ReplayDurationSeconds = 0
	c.Clamp()
	require.Equal(t, 1, c.ReplayDurationSeconds)
}

func TestClamp_FPS(t *testing.T) {
	c := Default()
	c.ReplayFPS = 10
	c.Clamp()
	require.Equal(t, 30, c.ReplayFPS)

	c.ReplayFPS = 1000
	c.Clamp()
	require.Equal(t, 240, c.ReplayFPS)
}

func TestClamp_AudioVolume(t *testing.T) {
	c := Default()
	c.AudioVolume1 = -10
	c.AudioVolume2 = 1000
	c.Clamp()
	require.Equal(t, 0, c.AudioVolume1)
	require.Equal(t, 400, c.AudioVolume2)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoad_ReadsYAMLAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotlap.yaml")
	yaml := `
replay_duration_seconds: 9999
replay_fps: 120
quality: high
audio_enabled: true
audio_volume1: 250
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1200, c.ReplayDurationSeconds)
	require.Equal(t, 120, c.ReplayFPS)
	require.Equal(t, types.QualityHigh, c.Quality)
	require.True(t, c.AudioEnabled)
	require.Equal(t, 250, c.AudioVolume1)
}

func TestLoad_RejectsUnknownQuality(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hotlap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quality: ultra\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestFromFlags_DefaultsPassThroughBase(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := FromFlags(Default(), fs, nil)
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestFromFlags_OverridesAndClamps(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := FromFlags(Default(), fs, []string{
		"-replay-duration-seconds=9999",
		"-replay-fps=10",
		"-quality=high",
		"-replay-capture-source=window",
		"-replay-aspect-ratio=16:9",
		"-audio-volume1=500",
	})
	require.NoError(t, err)
	require.Equal(t, 1200, c.ReplayDurationSeconds)
	require.Equal(t, 30, c.ReplayFPS)
	require.Equal(t, types.QualityHigh, c.Quality)
	require.Equal(t, CaptureSourceWindow, c.ReplayCaptureSource)
	require.Equal(t, AspectRatio16x9, c.ReplayAspectRatio)
	require.Equal(t, 400, c.AudioVolume1)
}

func TestFromFlags_RejectsUnknownQuality(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	_, err := FromFlags(Default(), fs, []string{"-quality=ultra"})
	require.Error(t, err)
}
