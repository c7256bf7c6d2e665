// Package errkind defines the core's error taxonomy as errors.Is-comparable
// sentinels rather than a parallel exception hierarchy. Every
// package that can fail wraps one of these with fmt.Errorf("...: %w", ...).
package errkind

import "errors"

var (
	// Transient — retry at the next tick: pipeline full, mutex wait
	// timeout, momentary capture miss, momentary audio under-run.
	Transient = errors.New("transient")

	// DeviceLost — GPU removed/reset. Sticky for the pipeline instance.
	DeviceLost = errors.New("device lost")

	// Stalled — no successful submit for fps*5 ticks. Treated like DeviceLost.
	Stalled = errors.New("stalled")

	// AccessLost — OS invalidated the desktop duplication/capture source.
	AccessLost = errors.New("access lost")

	// InitFailed — encoder absent, async mode unsupported, or allocation failed.
	InitFailed = errors.New("init failed")

	// SaveRejected — not in CAPTURING or insufficient buffered frames.
	SaveRejected = errors.New("save rejected")

	// SaveFailed — muxer reported failure or save-complete timed out.
	SaveFailed = errors.New("save failed")

	// AllocationFailure — a byte-buffer allocation failed.
	AllocationFailure = errors.New("allocation failure")

	// Busy — the pipeline has no free slot this tick.
	Busy = errors.New("busy")

	// ForcedTermination — the coordinator did not join within the stop
	// deadline and was hard-terminated; its encoder resources are
	// intentionally leaked rather than risk a double-free.
	ForcedTermination = errors.New("forced termination, resources leaked")
)
