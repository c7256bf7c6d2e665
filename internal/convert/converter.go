// Package convert names the color-conversion stage between capture and
// the encode pipeline. The actual pixel-format work (BGRA to
// NV12/YUV420P via libswscale, or the CUDA device-pointer handoff) is
// fused into the encoder backend's hardware submission call, wrapping
// sws_scale directly around avcodec_send_frame rather than running it as
// a separate pass, saving one copy on the hot path. This package's
// Converter exists so the pipeline stage is an explicit, swappable
// component even though the default implementation is a thin
// repackaging.
package convert

import "hotlap/internal/types"

// Converter turns a captured frame into the form an encoder backend's
// Submit expects. The BGRA and CUDA-NV12 implementations below both
// forward the raw pointer/geometry unchanged; real pixel conversion runs
// inside the backend.
type Converter interface {
	Convert(frame *types.Frame) (*types.ConvertedFrame, error)
	Close()
}

// Passthrough repackages a types.Frame into a types.ConvertedFrame
// without touching pixel data, for both the CPU/BGRA path (whose sws_scale
// call lives in the backend) and the CUDA/NV12 path (whose device pointer
// needs no CPU-side work at all).
type Passthrough struct{}

func (Passthrough) Convert(frame *types.Frame) (*types.ConvertedFrame, error) {
	return &types.ConvertedFrame{
		Data:   frame.Data,
		Ptr:    frame.Ptr,
		Width:  frame.Width,
		Height: frame.Height,
		Stride: frame.Stride,
		IsCUDA: frame.IsCUDA,
	}, nil
}

func (Passthrough) Close() {}
