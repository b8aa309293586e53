package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camara-coder/talking-game/internal/event"
	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/vad"
)

type fakeProcessor struct {
	requests chan ProcessRequest
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{requests: make(chan ProcessRequest, 4)}
}

func (p *fakeProcessor) ProcessTurn(_ context.Context, req ProcessRequest) {
	p.requests <- req
}

func (p *fakeProcessor) wait(t *testing.T) ProcessRequest {
	t.Helper()
	select {
	case req := <-p.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no turn committed")
		return ProcessRequest{}
	}
}

func (p *fakeProcessor) assertNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case req := <-p.requests:
		t.Fatalf("unexpected turn commit: %+v", req)
	case <-time.After(within):
	}
}

type fakeSink struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (s *fakeSink) WriteEvent(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Type, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// scriptDetector replays boundaries frame by frame, then reports silence.
type scriptDetector struct {
	script []vad.Boundary
	frames int
}

func (d *scriptDetector) Feed(frame []float32) (vad.Boundary, error) {
	d.frames++
	if d.frames <= len(d.script) {
		return d.script[d.frames-1], nil
	}
	return vad.BoundaryNone, nil
}

func (d *scriptDetector) Reset() { d.frames = 0 }

const testFrame = 512

func newTestCoordinator(proc Processor, script []vad.Boundary) (*Coordinator, *session.Registry) {
	reg := session.NewRegistry(10, 5*time.Minute, nil)
	cfg := Config{
		SampleRate:    16000,
		FrameSize:     testFrame,
		ConfirmWindow: 30 * time.Millisecond,
		PostRoll:      32 * time.Millisecond, // 512 samples
	}
	c := NewCoordinator(cfg, reg, proc, func() vad.Detector {
		return &scriptDetector{script: script}
	})
	return c, reg
}

// samples returns n PCM samples (2n bytes) of patterned audio.
func samples(n int) []byte {
	out := make([]byte, n*2)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestExplicitEndCommitsExactlyOnce(t *testing.T) {
	proc := newFakeProcessor()
	c, _ := newTestCoordinator(proc, nil)
	ctx := context.Background()

	c.OnAudioStart(ctx, "s1", nil)
	c.OnAudioChunk("s1", samples(1000))
	c.OnAudioChunk("s1", samples(500))
	c.OnAudioEnd("s1")
	c.OnAudioEnd("s1")

	req := proc.wait(t)
	assert.Equal(t, SourceExplicit, req.Source)
	assert.Len(t, req.Audio, 3000)
	assert.Equal(t, session.StatusProcessing, req.Session.Status())

	proc.assertNone(t, 100*time.Millisecond)
}

func TestEndpointConfirmationCommitsPrefix(t *testing.T) {
	proc := newFakeProcessor()
	c, _ := newTestCoordinator(proc, []vad.Boundary{vad.BoundaryStart, vad.BoundaryEnd})
	ctx := context.Background()

	c.OnAudioStart(ctx, "s1", nil)
	// Two frames: speech starts, then the endpoint lands at sample 1024.
	c.OnAudioChunk("s1", samples(2*testFrame))
	// Trailing audio past the endpoint keeps arriving during the window.
	c.OnAudioChunk("s1", samples(2*testFrame))

	req := proc.wait(t)
	assert.Equal(t, SourceEndpoint, req.Source)
	// Cutoff is the endpoint plus the 512-sample post-roll: 1536 samples.
	assert.Len(t, req.Audio, 1536*2)
}

func TestResumedSpeechCancelsConfirmation(t *testing.T) {
	proc := newFakeProcessor()
	c, _ := newTestCoordinator(proc, []vad.Boundary{
		vad.BoundaryStart, vad.BoundaryEnd, vad.BoundaryStart,
	})
	ctx := context.Background()

	c.OnAudioStart(ctx, "s1", nil)
	c.OnAudioChunk("s1", samples(2*testFrame)) // endpoint pending
	c.OnAudioChunk("s1", samples(testFrame))   // speech resumes

	proc.assertNone(t, 100*time.Millisecond)

	c.OnAudioEnd("s1")
	req := proc.wait(t)
	assert.Equal(t, SourceExplicit, req.Source)
	assert.Len(t, req.Audio, 3*testFrame*2, "resumed audio is part of the turn")
}

func TestExplicitEndSupersedesPendingConfirmation(t *testing.T) {
	proc := newFakeProcessor()
	c, _ := newTestCoordinator(proc, []vad.Boundary{vad.BoundaryStart, vad.BoundaryEnd})
	ctx := context.Background()

	c.OnAudioStart(ctx, "s1", nil)
	c.OnAudioChunk("s1", samples(2*testFrame))
	c.OnAudioEnd("s1")

	req := proc.wait(t)
	assert.Equal(t, SourceExplicit, req.Source)
	assert.Len(t, req.Audio, 2*testFrame*2, "explicit end keeps the full buffer")

	// The confirmation timer fires later and must stay silent.
	proc.assertNone(t, 100*time.Millisecond)
}

func TestTurnWithNoAudio(t *testing.T) {
	proc := newFakeProcessor()
	c, reg := newTestCoordinator(proc, nil)
	ctx := context.Background()

	sink := &fakeSink{}
	c.RegisterConnection("s1", sink)
	c.OnAudioStart(ctx, "s1", nil)
	c.OnAudioEnd("s1")

	proc.assertNone(t, 100*time.Millisecond)

	types := sink.types()
	require.Equal(t, []event.Type{event.TypeState, event.TypeError, event.TypeState}, types)
	errPayload := sink.events[1].Payload.(event.ErrorPayload)
	assert.Equal(t, event.CodeNoAudio, errPayload.Code)

	sess, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, session.StatusIdle, sess.Status())
	assert.Empty(t, sess.Turns())
}

func TestBroadcastIsolatesFailingConnection(t *testing.T) {
	proc := newFakeProcessor()
	c, _ := newTestCoordinator(proc, nil)

	good1 := &fakeSink{}
	bad := &fakeSink{err: errors.New("write: broken pipe")}
	good2 := &fakeSink{}
	c.RegisterConnection("s1", good1)
	c.RegisterConnection("s1", bad)
	c.RegisterConnection("s1", good2)

	c.Broadcast("s1", event.State("s1", "", session.StatusListening))
	assert.Len(t, good1.types(), 1)
	assert.Len(t, good2.types(), 1)

	// The failed connection was dropped; later events still flow to the rest.
	c.Broadcast("s1", event.State("s1", "", session.StatusIdle))
	assert.Len(t, good1.types(), 2)
	assert.Len(t, good2.types(), 2)
}

func TestRepeatedAudioStartIsIdempotent(t *testing.T) {
	proc := newFakeProcessor()
	c, reg := newTestCoordinator(proc, nil)
	ctx := context.Background()

	c.OnAudioStart(ctx, "s1", nil)
	sess, _ := reg.Get("s1")
	turnID := sess.CurrentTurnID()
	require.NotEmpty(t, turnID)

	c.OnAudioChunk("s1", samples(100))
	c.OnAudioStart(ctx, "s1", nil)
	assert.Equal(t, turnID, sess.CurrentTurnID())

	c.OnAudioChunk("s1", samples(100))
	c.OnAudioEnd("s1")

	req := proc.wait(t)
	assert.Equal(t, turnID, req.TurnID)
	assert.Len(t, req.Audio, 400, "restart must not lose buffered audio")
}

func TestChunksOutsideCaptureAreDropped(t *testing.T) {
	proc := newFakeProcessor()
	c, _ := newTestCoordinator(proc, nil)

	// No capture yet; must not panic or commit anything.
	c.OnAudioChunk("s1", samples(100))
	c.OnAudioEnd("s1")
	proc.assertNone(t, 50*time.Millisecond)
}

func TestLastDisconnectReleasesCapture(t *testing.T) {
	proc := newFakeProcessor()
	c, reg := newTestCoordinator(proc, nil)
	ctx := context.Background()

	sink := &fakeSink{}
	c.RegisterConnection("s1", sink)
	c.OnAudioStart(ctx, "s1", nil)
	c.OnAudioChunk("s1", samples(100))
	c.DeregisterConnection("s1", sink)

	sess, ok := reg.Get("s1")
	require.True(t, ok, "session survives disconnect")
	assert.Equal(t, session.StatusIdle, sess.Status())
	assert.Empty(t, sess.CurrentTurnID())

	c.OnAudioChunk("s1", samples(100))
	proc.assertNone(t, 50*time.Millisecond)
}
