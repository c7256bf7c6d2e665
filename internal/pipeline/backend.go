package pipeline

import "hotlap/internal/types"

// Backend performs the actual cross-device copy and hardware encode for
// one slot. Implementations are cgo bindings to a specific encoder API
// (NVENC via libavcodec on Linux, VideoToolbox on Darwin); Pipeline only
// depends on this interface, which keeps the slot/ownership machinery
// testable with a fake.
type Backend interface {
	// Submit stages frame into slot idx: the cross-device (or host) copy
	// only, never the encode itself, so the capture loop is bounded by
	// the copy cost.
	Submit(idx int, frame *types.ConvertedFrame, pts, duration types.HNS, forceIDR bool) error

	// Retrieve encodes the staged slot and returns its bitstream. Called
	// only from the pipeline's single output worker goroutine, never
	// concurrently with Submit on the same idx.
	Retrieve(idx int) (data []byte, isKey bool, err error)

	// SequenceHeader returns the codec's parameter-set bytes, or nil while
	// the encoder has none; the supervisor asks for it right after
	// pipeline.New and again after each accepted submit until it is set.
	SequenceHeader() []byte

	Close()
}
