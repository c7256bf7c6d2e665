// Package capture implements the desktop capture adapter:
// a thin wrapper over the platform desktop-duplication API that hands the
// pipeline either a CUDA device pointer (NvFBC's TOCUDA mode) or a
// host-memory BGRA buffer (the XShm fallback).
package capture

import "hotlap/internal/types"

// Adapter captures one frame per call. Implementations may optionally
// satisfy types.CUDAProvider (zero-copy GPU path) and types.DebugGrabber
// (still-image diagnostics).
type Adapter interface {
	Grab() (*types.Frame, error)
	Width() int
	Height() int
	Close()
}
