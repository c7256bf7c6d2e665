//go:build linux

package main

import (
	"unsafe"

	"hotlap/internal/pipeline"
	"hotlap/internal/types"
)

// newEncoderBackend opens the NVENC-or-CPU ffmpeg backend, sharing the
// capture adapter's CUDA context when it has one so frames stay on the
// GPU across the device boundary. Rate control is constant-QP from the
// quality preset.
func newEncoderBackend(width, height, fps int, quality types.Quality, gopFrames int) (pipeline.Backend, error) {
	var cudaCtx, cuMemcpy unsafe.Pointer
	adapterMu.Lock()
	if p, ok := lastAdapter.(types.CUDAProvider); ok {
		cudaCtx = p.CUDAContext()
		cuMemcpy = p.CuMemcpy2D()
	}
	adapterMu.Unlock()

	return pipeline.NewFFmpegBackend(width, height, fps,
		quality.QP(), quality.IntraQP(), 0, "h264", gopFrames, cudaCtx, cuMemcpy)
}
