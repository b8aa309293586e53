package vad

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptDetector replays a fixed boundary sequence, one entry per frame.
type scriptDetector struct {
	script []Boundary
	errAt  int // 1-based frame index that fails; 0 disables
	frames int
}

func (d *scriptDetector) Feed(frame []float32) (Boundary, error) {
	d.frames++
	if d.errAt != 0 && d.frames == d.errAt {
		return BoundaryNone, errors.New("model backend unavailable")
	}
	if d.frames <= len(d.script) {
		return d.script[d.frames-1], nil
	}
	return BoundaryNone, nil
}

func (d *scriptDetector) Reset() { d.frames = 0 }

// pcmBytes returns n samples of silence as 16-bit PCM.
func pcmBytes(n int) []byte {
	return make([]byte, n*2)
}

func TestEndpointerDetectsEnd(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart, BoundaryNone, BoundaryEnd}}
	e := NewEndpointer(det, 512, "s1")

	res := e.ProcessChunk(pcmBytes(1024))
	assert.False(t, res.EndDetected)

	res = e.ProcessChunk(pcmBytes(512))
	require.True(t, res.EndDetected)
	assert.Equal(t, int64(1536), res.EndSample)

	end, pending := e.Pending()
	assert.True(t, pending)
	assert.Equal(t, int64(1536), end)
}

func TestEndpointerReportsEndOnlyOnce(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart, BoundaryEnd}}
	e := NewEndpointer(det, 512, "s1")

	res := e.ProcessChunk(pcmBytes(1024))
	assert.True(t, res.EndDetected)

	// Further silence keeps the endpoint pending but does not re-announce it.
	res = e.ProcessChunk(pcmBytes(1024))
	assert.False(t, res.EndDetected)
	assert.False(t, res.SpeechResumed)
	_, pending := e.Pending()
	assert.True(t, pending)
}

func TestEndpointerSpeechResumedCancelsPending(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart, BoundaryEnd, BoundaryStart}}
	e := NewEndpointer(det, 512, "s1")

	res := e.ProcessChunk(pcmBytes(1024))
	assert.True(t, res.EndDetected)

	res = e.ProcessChunk(pcmBytes(512))
	assert.True(t, res.SpeechResumed)
	assert.False(t, res.EndDetected)
	_, pending := e.Pending()
	assert.False(t, pending)
}

func TestEndpointerEndAndResumeInOneChunk(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart, BoundaryEnd, BoundaryStart}}
	e := NewEndpointer(det, 512, "s1")

	res := e.ProcessChunk(pcmBytes(1536))
	assert.False(t, res.EndDetected)
	assert.True(t, res.SpeechResumed)
}

func TestEndpointerBuffersPartialFrames(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart}}
	e := NewEndpointer(det, 512, "s1")

	e.ProcessChunk(pcmBytes(300))
	assert.Equal(t, int64(0), e.TotalSamples(), "no whole frame yet")

	e.ProcessChunk(pcmBytes(300))
	assert.Equal(t, int64(512), e.TotalSamples())
	assert.Equal(t, 1, det.frames)
}

func TestEndpointerDetectorFailureIsSilent(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart, BoundaryEnd}, errAt: 2}
	e := NewEndpointer(det, 512, "s1")

	res := e.ProcessChunk(pcmBytes(1024))
	assert.False(t, res.EndDetected, "failed frame produces no endpoint event")
	assert.False(t, res.SpeechResumed)
	assert.Equal(t, int64(1024), e.TotalSamples(), "sample counting continues past failures")
}

func TestEndpointerReset(t *testing.T) {
	det := &scriptDetector{script: []Boundary{BoundaryStart, BoundaryEnd}}
	e := NewEndpointer(det, 512, "s1")
	e.ProcessChunk(pcmBytes(1024))

	e.Reset()
	assert.Equal(t, int64(0), e.TotalSamples())
	_, pending := e.Pending()
	assert.False(t, pending)
	assert.Equal(t, 0, det.frames)
}
