// Package types holds the data model shared across the capture, encode,
// store and supervisor packages: HNS timestamps, encoded units, frame
// references and the small enums the rest of the core switches on.
package types

import (
	"image"
	"time"
	"unsafe"
)

// HNS is a 100-nanosecond tick count: 10,000,000 HNS == 1 second. All
// timestamps and durations in the core are expressed in HNS so video and
// audio units can be compared without a conversion at the boundary.
type HNS int64

const HNSPerSecond HNS = 10_000_000

// FromDuration converts a time.Duration to HNS.
func FromDuration(d time.Duration) HNS {
	return HNS(d.Nanoseconds() / 100)
}

// ToDuration converts HNS to a time.Duration.
func (h HNS) ToDuration() time.Duration {
	return time.Duration(h) * 100 * time.Nanosecond
}

// Seconds returns the HNS value as fractional seconds.
func (h HNS) Seconds() float64 {
	return float64(h) / float64(HNSPerSecond)
}

// Quality is the user-facing quality preset; it drives both the
// constant-QP video rate control and the RAM-estimate base bitrate.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityLossless
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityLossless:
		return "lossless"
	default:
		return "unknown"
	}
}

// QP returns the constant-QP rate-control value for this preset.
func (q Quality) QP() int {
	switch q {
	case QualityLow:
		return 28
	case QualityMedium:
		return 24
	case QualityHigh:
		return 20
	case QualityLossless:
		return 16
	default:
		return 24
	}
}

// IntraQP returns the intra-frame QP, max(1, qp-4).
func (q Quality) IntraQP() int {
	qp := q.QP() - 4
	if qp < 1 {
		qp = 1
	}
	return qp
}

// BaseBitrateMbps is the BASE_BITRATE table used by the RAM estimator.
func (q Quality) BaseBitrateMbps() float64 {
	switch q {
	case QualityLow:
		return 60
	case QualityMedium:
		return 75
	case QualityHigh:
		return 90
	case QualityLossless:
		return 130
	default:
		return 75
	}
}

// PixelFormat distinguishes the capture surface format from the
// encoder's preferred format.
type PixelFormat int

const (
	// PixFmtBGRA is the typical desktop-duplication capture format.
	PixFmtBGRA PixelFormat = iota
	// PixFmtNV12 is the typical hardware encoder input format.
	PixFmtNV12
)

// Frame is a reference to a captured GPU image in pixel format A. Either
// Ptr (zero-copy GPU/CUDA pointer) or Data (CPU-side bytes) is populated.
// Lifetime: released back to the capture source after submission to the
// converter.
type Frame struct {
	Data    []byte
	Ptr     unsafe.Pointer
	Width   int
	Height  int
	Stride  int
	IsCUDA  bool // true: Ptr is a CUDA device pointer, not a host pointer
	PixFmt  PixelFormat
	Capture HNS // wall-clock HNS timestamp at capture time
}

// ConvertedFrame is the converter's output: an image in the encoder's
// preferred format, either a CUDA device pointer or host bytes. Transient
// — consumed within the same tick.
type ConvertedFrame struct {
	Data   []byte
	Ptr    unsafe.Pointer
	Width  int
	Height int
	Stride int
	IsCUDA bool
}

// EncodedVideoUnit is one encoded access unit produced by the video
// pipeline. The video store owns Data after insertion.
type EncodedVideoUnit struct {
	Data     []byte
	PTS      HNS
	Duration HNS
	IsKey    bool
}

// EncodedAudioUnit is one encoded Opus frame. The audio store owns Data
// after insertion.
type EncodedAudioUnit struct {
	Data     []byte
	PTS      HNS
	Duration HNS
}

// CUDAProvider is optionally implemented by a capture.Adapter that
// captures directly into CUDA device memory (e.g. NvFBC TOCUDA). The
// video pipeline's CUDA backend uses this to share the capture device's
// CUDA context instead of round-tripping frames through host memory.
type CUDAProvider interface {
	CUDAContext() unsafe.Pointer
	CuMemcpy2D() unsafe.Pointer
}

// DebugGrabber is optionally implemented by a capture.Adapter to provide
// a still image for diagnostics without disturbing the live pipeline.
type DebugGrabber interface {
	GrabImage() (image.Image, error)
}

// SupervisorState is the coordinator's finite state machine.
type SupervisorState int32

const (
	StateUninitialized SupervisorState = iota
	StateStarting
	StateCapturing
	StateStopping
	StateStalled
	StateError
)

func (s SupervisorState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StateStalled:
		return "stalled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
