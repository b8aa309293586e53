package vad

import (
	"log/slog"

	"github.com/camara-coder/talking-game/internal/audio"
	"github.com/camara-coder/talking-game/internal/metrics"
)

// Result summarizes what one chunk did to the endpoint state. Only
// transitions are reported: an endpoint already pending before the chunk does
// not set EndDetected again, so one endpoint schedules one confirmation.
type Result struct {
	// EndDetected reports that an endpoint became pending in this chunk and
	// is still pending at its end.
	EndDetected bool

	// SpeechResumed reports that a previously pending endpoint was cancelled
	// because speech started again.
	SpeechResumed bool

	// EndSample is the absolute sample position of the pending endpoint.
	// Valid only when EndDetected is true.
	EndSample int64
}

// Endpointer adapts arbitrary PCM byte chunks to the fixed frame size of a
// Detector and tracks the pending-endpoint state of one turn. Sample
// positions are counted in whole frames so they line up with what the
// detector has actually seen. Callers serialize access; the Endpointer does
// no locking.
type Endpointer struct {
	detector  Detector
	frameSize int
	sessionID string

	carry        []float32
	totalSamples int64
	pending      bool
	endSample    int64
}

// NewEndpointer wraps a detector for one turn's stream.
func NewEndpointer(detector Detector, frameSize int, sessionID string) *Endpointer {
	return &Endpointer{
		detector:  detector,
		frameSize: frameSize,
		sessionID: sessionID,
		carry:     make([]float32, 0, frameSize),
	}
}

// ProcessChunk feeds one chunk of 16-bit PCM through the detector. Detector
// failures are counted and logged but never surface as endpoint events; the
// stream degrades to explicit end-of-speech signals only.
func (e *Endpointer) ProcessChunk(chunk []byte) Result {
	var res Result
	ended := false

	e.carry = append(e.carry, audio.DecodePCM16(chunk)...)
	for len(e.carry) >= e.frameSize {
		frame := e.carry[:e.frameSize]
		e.carry = e.carry[e.frameSize:]
		e.totalSamples += int64(e.frameSize)

		boundary, err := e.detector.Feed(frame)
		if err != nil {
			metrics.DetectorErrors.Inc()
			slog.Warn("endpoint detector failed on frame",
				"session_id", e.sessionID, "error", err)
			continue
		}

		switch boundary {
		case BoundaryEnd:
			e.pending = true
			e.endSample = e.totalSamples
			ended = true
		case BoundaryStart:
			if e.pending {
				e.pending = false
				ended = false
				res.SpeechResumed = true
			}
		}
	}

	if ended {
		res.EndDetected = true
		res.EndSample = e.endSample
	}
	return res
}

// Pending reports whether an endpoint is awaiting confirmation.
func (e *Endpointer) Pending() (int64, bool) {
	return e.endSample, e.pending
}

// TotalSamples returns the number of whole frames' worth of samples consumed.
func (e *Endpointer) TotalSamples() int64 {
	return e.totalSamples
}

// Reset clears endpoint state and the underlying detector for a new turn.
func (e *Endpointer) Reset() {
	e.carry = e.carry[:0]
	e.totalSamples = 0
	e.pending = false
	e.endSample = 0
	e.detector.Reset()
}
