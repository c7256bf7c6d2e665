// Package pipeline implements the cross-device encode pipeline: a fixed
// ring of slots handed off between a producer (capture + convert) and a
// single consumer (the hardware encoder), with typed Go channel tokens
// modeling the "exactly one side owns the slot at any instant" invariant
// a GPU keyed mutex would otherwise enforce.
package pipeline

import (
	"time"

	"hotlap/internal/types"
)

const (
	// NumSlots is the ring depth: how many frames may be in flight
	// between submission and retrieval at once.
	NumSlots = 8

	// MutexAcquireTimeout bounds how long Submit waits to claim a slot
	// before reporting it busy, mirroring a keyed-mutex acquire timeout.
	MutexAcquireTimeout = 50 * time.Millisecond

	// EventWaitTimeout bounds how long the output worker waits for a
	// slot to be handed off before checking for shutdown.
	EventWaitTimeout = 250 * time.Millisecond
)

// slot is one ring entry. free holds a token when the producer may claim
// it; ready holds a token once the producer has staged a frame and handed
// ownership to the consumer. Exactly one of the two channels holds a
// token at any instant once the pipeline is running — the Go analogue of
// a keyed mutex's single current owner.
type slot struct {
	idx   int
	free  chan struct{}
	ready chan struct{}

	frame    *types.ConvertedFrame
	pts      types.HNS
	duration types.HNS
	forceIDR bool
}

func newSlot(idx int) *slot {
	s := &slot{
		idx:   idx,
		free:  make(chan struct{}, 1),
		ready: make(chan struct{}, 1),
	}
	s.free <- struct{}{} // producer owns every slot at startup
	return s
}
