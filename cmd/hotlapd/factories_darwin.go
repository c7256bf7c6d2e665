//go:build darwin

package main

import (
	"hotlap/internal/pipeline"
	"hotlap/internal/types"
)

func newEncoderBackend(width, height, fps int, quality types.Quality, gopFrames int) (pipeline.Backend, error) {
	return pipeline.NewVTBBackend(width, height, fps,
		quality.QP(), quality.IntraQP(), "h264", gopFrames)
}
