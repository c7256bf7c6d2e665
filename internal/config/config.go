// Package config holds the replay_* settings a session is started with:
// a mapstructure-tagged struct loaded from an optional YAML file via
// viper, then overridden by CLI flags, mirroring the pack's
// config-file-plus-flag-override convention for long-running capture
// daemons.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"

	"github.com/spf13/viper"

	"hotlap/internal/types"
)

// CaptureSource distinguishes a full-monitor capture from a single-window
// capture (window capture is out of scope; kept as an enum value so a
// caller's intent is explicit rather than inferred from a zero value).
type CaptureSource int

const (
	CaptureSourceMonitor CaptureSource = iota
	CaptureSourceWindow
)

func (c CaptureSource) String() string {
	if c == CaptureSourceWindow {
		return "window"
	}
	return "monitor"
}

// AspectRatio constrains the captured region to a crop of the monitor.
type AspectRatio int

const (
	AspectRatioNative AspectRatio = iota
	AspectRatio16x9
	AspectRatio4x3
	AspectRatio21x9
)

func (a AspectRatio) String() string {
	switch a {
	case AspectRatio16x9:
		return "16:9"
	case AspectRatio4x3:
		return "4:3"
	case AspectRatio21x9:
		return "21:9"
	default:
		return "native"
	}
}

// raw is the mapstructure/viper decoding target: plain strings and ints
// for the fields that are typed enums in Config, decoded and validated
// in resolve().
type raw struct {
	ReplayEnabled         bool   `mapstructure:"replay_enabled"`
	ReplayDurationSeconds int    `mapstructure:"replay_duration_seconds"`
	ReplayCaptureSource   string `mapstructure:"replay_capture_source"`
	ReplayMonitorIndex    int    `mapstructure:"replay_monitor_index"`
	ReplayAspectRatio     string `mapstructure:"replay_aspect_ratio"`
	ReplayFPS             int    `mapstructure:"replay_fps"`
	ReplaySaveKey         string `mapstructure:"replay_save_key"`
	Quality               string `mapstructure:"quality"`
	AudioEnabled          bool   `mapstructure:"audio_enabled"`
	AudioSource1          string `mapstructure:"audio_source1"`
	AudioSource2          string `mapstructure:"audio_source2"`
	AudioSource3          string `mapstructure:"audio_source3"`
	AudioVolume1          int    `mapstructure:"audio_volume1"`
	AudioVolume2          int    `mapstructure:"audio_volume2"`
	AudioVolume3          int    `mapstructure:"audio_volume3"`
	SavePath              string `mapstructure:"save_path"`
}

func defaultRaw() raw {
	return raw{
		ReplayEnabled:         true,
		ReplayDurationSeconds: 60,
		ReplayCaptureSource:   "monitor",
		ReplayMonitorIndex:    0,
		ReplayAspectRatio:     "native",
		ReplayFPS:             60,
		ReplaySaveKey:         "F9",
		Quality:               "medium",
		AudioEnabled:          false,
		AudioVolume1:          100,
		AudioVolume2:          100,
		AudioVolume3:          100,
		SavePath:              ".",
	}
}

// Config holds the full set of replay_* settings for one session.
type Config struct {
	ReplayEnabled         bool
	ReplayDurationSeconds int
	ReplayCaptureSource   CaptureSource
	ReplayMonitorIndex    int
	ReplayAspectRatio     AspectRatio
	ReplayFPS             int
	ReplaySaveKey         string
	Quality               types.Quality
	AudioEnabled          bool
	AudioSource1          string
	AudioSource2          string
	AudioSource3          string
	AudioVolume1          int
	AudioVolume2          int
	AudioVolume3          int
	SavePath              string
}

// Default returns the out-of-the-box configuration: a 60 second buffer at
// medium quality, no audio sources selected.
func Default() Config {
	c, err := resolve(defaultRaw())
	if err != nil {
		// defaultRaw's enum strings are all valid; a failure here would be
		// a programming error, not a runtime condition.
		panic(fmt.Sprintf("config: invalid built-in default: %v", err))
	}
	return c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp forces every bounded field into its documented range
// (replay_duration_seconds: 1-1200, replay_fps: 30-240, audio_volume*:
// 0-400) rather than rejecting an out-of-range value outright.
func (c *Config) Clamp() {
	c.ReplayDurationSeconds = clampInt(c.ReplayDurationSeconds, 1, 1200)
	c.ReplayFPS = clampInt(c.ReplayFPS, 30, 240)
	c.AudioVolume1 = clampInt(c.AudioVolume1, 0, 400)
	c.AudioVolume2 = clampInt(c.AudioVolume2, 0, 400)
	c.AudioVolume3 = clampInt(c.AudioVolume3, 0, 400)
	if c.ReplayMonitorIndex < 0 {
		c.ReplayMonitorIndex = 0
	}
}

func parseQuality(s string) (types.Quality, error) {
	switch s {
	case "low":
		return types.QualityLow, nil
	case "medium":
		return types.QualityMedium, nil
	case "high":
		return types.QualityHigh, nil
	case "lossless":
		return types.QualityLossless, nil
	default:
		return types.QualityMedium, fmt.Errorf("config: unknown quality %q", s)
	}
}

func parseCaptureSource(s string) (CaptureSource, error) {
	switch s {
	case "", "monitor":
		return CaptureSourceMonitor, nil
	case "window":
		return CaptureSourceWindow, nil
	default:
		return CaptureSourceMonitor, fmt.Errorf("config: unknown capture source %q", s)
	}
}

func parseAspectRatio(s string) (AspectRatio, error) {
	switch s {
	case "", "native":
		return AspectRatioNative, nil
	case "16:9":
		return AspectRatio16x9, nil
	case "4:3":
		return AspectRatio4x3, nil
	case "21:9":
		return AspectRatio21x9, nil
	default:
		return AspectRatioNative, fmt.Errorf("config: unknown aspect ratio %q", s)
	}
}

// resolve decodes a raw struct into a Config, validating its enum fields
// and clamping its bounded fields.
func resolve(r raw) (Config, error) {
	cs, err := parseCaptureSource(r.ReplayCaptureSource)
	if err != nil {
		return Config{}, err
	}
	ar, err := parseAspectRatio(r.ReplayAspectRatio)
	if err != nil {
		return Config{}, err
	}
	q, err := parseQuality(r.Quality)
	if err != nil {
		return Config{}, err
	}
	if r.ReplaySaveKey == "" {
		r.ReplaySaveKey = "F9"
	}
	if r.SavePath == "" {
		r.SavePath = "."
	}

	c := Config{
		ReplayEnabled:         r.ReplayEnabled,
		ReplayDurationSeconds: r.ReplayDurationSeconds,
		ReplayCaptureSource:   cs,
		ReplayMonitorIndex:    r.ReplayMonitorIndex,
		ReplayAspectRatio:     ar,
		ReplayFPS:             r.ReplayFPS,
		ReplaySaveKey:         r.ReplaySaveKey,
		Quality:               q,
		AudioEnabled:          r.AudioEnabled,
		AudioSource1:          r.AudioSource1,
		AudioSource2:          r.AudioSource2,
		AudioSource3:          r.AudioSource3,
		AudioVolume1:          r.AudioVolume1,
		AudioVolume2:          r.AudioVolume2,
		AudioVolume3:          r.AudioVolume3,
		SavePath:              r.SavePath,
	}
	c.Clamp()
	return c, nil
}

// Load reads replay_* settings from a YAML config file, falling back to
// built-in defaults for anything the file omits. An empty path looks for
// "hotlap.yaml" in the current directory; a missing file is not an
// error, only a malformed one is.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hotlap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("HOTLAP")
	v.AutomaticEnv()

	r := defaultRaw()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&r); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return resolve(r)
}

// FromFlags registers and parses the replay_* flags against fs on top of
// base, returning the overridden, clamped Config. Only flags explicitly
// passed in args override base's fields.
func FromFlags(base Config, fs *flag.FlagSet, args []string) (Config, error) {
	enabled := fs.Bool("replay-enabled", base.ReplayEnabled, "enable the replay buffer")
	duration := fs.Int("replay-duration-seconds", base.ReplayDurationSeconds, "replay buffer length in seconds (1-1200)")
	source := fs.String("replay-capture-source", base.ReplayCaptureSource.String(), "capture source: monitor or window")
	monitor := fs.Int("replay-monitor-index", base.ReplayMonitorIndex, "zero-based monitor index")
	aspect := fs.String("replay-aspect-ratio", base.ReplayAspectRatio.String(), "crop aspect ratio: native, 16:9, 4:3, 21:9")
	fps := fs.Int("replay-fps", base.ReplayFPS, "capture/encode frame rate (30-240)")
	saveKey := fs.String("replay-save-key", base.ReplaySaveKey, "hotkey that triggers a save")
	quality := fs.String("quality", base.Quality.String(), "encode quality: low, medium, high, lossless")
	audioEnabled := fs.Bool("audio-enabled", base.AudioEnabled, "mix and encode audio alongside video")
	audioSource1 := fs.String("audio-source1", base.AudioSource1, "first audio source device name")
	audioSource2 := fs.String("audio-source2", base.AudioSource2, "second audio source device name")
	audioSource3 := fs.String("audio-source3", base.AudioSource3, "third audio source device name")
	audioVolume1 := fs.Int("audio-volume1", base.AudioVolume1, "first audio source volume percent (0-400)")
	audioVolume2 := fs.Int("audio-volume2", base.AudioVolume2, "second audio source volume percent (0-400)")
	audioVolume3 := fs.Int("audio-volume3", base.AudioVolume3, "third audio source volume percent (0-400)")
	savePath := fs.String("save-path", base.SavePath, "directory saved clips are written to")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return resolve(raw{
		ReplayEnabled:         *enabled,
		ReplayDurationSeconds: *duration,
		ReplayCaptureSource:   *source,
		ReplayMonitorIndex:    *monitor,
		ReplayAspectRatio:     *aspect,
		ReplayFPS:             *fps,
		ReplaySaveKey:         *saveKey,
		Quality:               *quality,
		AudioEnabled:          *audioEnabled,
		AudioSource1:          *audioSource1,
		AudioSource2:          *audioSource2,
		AudioSource3:          *audioSource3,
		AudioVolume1:          *audioVolume1,
		AudioVolume2:          *audioVolume2,
		AudioVolume3:          *audioVolume3,
		SavePath:              *savePath,
	})
}
