// Package vad provides streaming speech endpoint detection over 16-bit PCM
// audio. A Detector classifies fixed-size frames; the Endpointer adapts
// arbitrary byte chunks to frames and tracks endpoint state across a turn.
package vad

// Boundary is a speech boundary reported for one frame.
type Boundary int

const (
	BoundaryNone Boundary = iota
	BoundaryStart
	BoundaryEnd
)

// Detector classifies consecutive fixed-size frames of one audio stream.
// Implementations keep internal state and are not safe for concurrent use.
type Detector interface {
	// Feed processes one frame and reports a boundary crossed within it.
	Feed(frame []float32) (Boundary, error)

	// Reset clears all internal state for a new stream.
	Reset()
}
