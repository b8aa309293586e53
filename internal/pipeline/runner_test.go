package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camara-coder/talking-game/internal/audio"
	"github.com/camara-coder/talking-game/internal/event"
	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/turn"
)

type fakePipeline struct {
	result  *Result
	err     error
	gotPCM  []byte
	history []session.ContextTurn
}

func (f *fakePipeline) Run(_ context.Context, pcm []byte, _ string, history []session.ContextTurn) (*Result, error) {
	f.gotPCM = pcm
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBroadcaster) Broadcast(_ string, ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) types() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Type, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

type memStore struct {
	mu       sync.Mutex
	sessions []session.Info
	turns    []session.Turn
}

func (s *memStore) SaveSession(_ context.Context, info session.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, info)
	return nil
}

func (s *memStore) SaveTurn(_ context.Context, _ string, t session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return nil
}

func newTestRunner(t *testing.T, p UtterancePipeline, b Broadcaster, store TurnStore) *Runner {
	t.Helper()
	return NewRunner(p, b, store, RunnerConfig{
		AudioDir:      t.TempDir(),
		TTSSampleRate: 24000,
		ContextTurns:  4,
		IdleDelay:     time.Millisecond,
	})
}

func TestRunnerHappyPath(t *testing.T) {
	replyWAV := audio.SamplesToWAV(make([]float32, 24000), 24000)
	fp := &fakePipeline{result: &Result{
		Transcript: "hi",
		ReplyText:  "hello",
		Route:      RouteLLM,
		Audio:      replyWAV,
	}}
	bc := &recordingBroadcaster{}
	store := &memStore{}
	r := newTestRunner(t, fp, bc, store)

	sess := session.New("s1", "en", "ptt")
	started := sess.StartTurn()
	sess.SetStatus(session.StatusProcessing)

	utterance := make([]byte, 32000) // two seconds at 16 kHz
	r.ProcessTurn(context.Background(), turn.ProcessRequest{
		Session: sess,
		TurnID:  started.ID,
		Audio:   utterance,
		Source:  turn.SourceExplicit,
	})

	require.Equal(t, []event.Type{
		event.TypeTranscript,
		event.TypeReplyText,
		event.TypeAudioReady,
		event.TypeState, // speaking
		event.TypeState, // idle
	}, bc.types())

	assert.Equal(t, "hi", bc.events[0].Payload.(event.TextPayload).Text)
	assert.Equal(t, "hello", bc.events[1].Payload.(event.TextPayload).Text)

	ready := bc.events[2].Payload.(event.AudioReadyPayload)
	assert.Equal(t, "/api/audio/s1/"+started.ID+".wav", ready.URL)
	assert.Equal(t, 1000, ready.DurationMs)
	assert.Equal(t, "wav", ready.Format)

	assert.Equal(t, session.StatusSpeaking, bc.events[3].Payload.(event.StatePayload).State)
	assert.Equal(t, session.StatusIdle, bc.events[4].Payload.(event.StatePayload).State)

	assert.Equal(t, utterance, fp.gotPCM)
	assert.Equal(t, session.StatusIdle, sess.Status())

	turns := sess.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Transcript)
	assert.Equal(t, "hello", turns[0].ReplyText)
	assert.Equal(t, RouteLLM, turns[0].Route)
	assert.Equal(t, 1000, turns[0].AudioDurationMs)

	if data, err := os.ReadFile(filepath.Join(turns[0].AudioPath)); assert.NoError(t, err) {
		assert.Equal(t, replyWAV, data)
	}

	require.Len(t, store.turns, 1)
	assert.Equal(t, started.ID, store.turns[0].ID)
	require.Len(t, store.sessions, 1)
	assert.Equal(t, 1, store.sessions[0].TotalTurns)
}

func TestRunnerPipelineFailure(t *testing.T) {
	fp := &fakePipeline{err: errors.New("stt unreachable")}
	bc := &recordingBroadcaster{}
	r := newTestRunner(t, fp, bc, nil)

	sess := session.New("s1", "en", "ptt")
	started := sess.StartTurn()
	sess.SetStatus(session.StatusProcessing)

	r.ProcessTurn(context.Background(), turn.ProcessRequest{
		Session: sess,
		TurnID:  started.ID,
		Audio:   make([]byte, 1000),
	})

	require.Equal(t, []event.Type{event.TypeError, event.TypeState}, bc.types())
	assert.Equal(t, event.CodePipelineError, bc.events[0].Payload.(event.ErrorPayload).Code)
	assert.Equal(t, session.StatusIdle, bc.events[1].Payload.(event.StatePayload).State)

	assert.Equal(t, session.StatusIdle, sess.Status())
	assert.Empty(t, sess.Turns(), "failed turns never enter history")
}

func TestRunnerWithoutSynthesizedAudio(t *testing.T) {
	fp := &fakePipeline{result: &Result{
		Transcript: "hi",
		ReplyText:  "hello",
		Route:      RouteMath,
	}}
	bc := &recordingBroadcaster{}
	r := newTestRunner(t, fp, bc, nil)

	sess := session.New("s1", "en", "ptt")
	started := sess.StartTurn()
	sess.SetStatus(session.StatusProcessing)

	r.ProcessTurn(context.Background(), turn.ProcessRequest{
		Session: sess,
		TurnID:  started.ID,
		Audio:   make([]byte, 1000),
	})

	assert.Equal(t, []event.Type{
		event.TypeTranscript,
		event.TypeReplyText,
		event.TypeState,
		event.TypeState,
	}, bc.types(), "no audio_ready when synthesis produced nothing")

	turns := sess.Turns()
	require.Len(t, turns, 1)
	assert.Empty(t, turns[0].AudioPath)
}

func TestRunnerPassesRecentHistory(t *testing.T) {
	fp := &fakePipeline{result: &Result{Transcript: "t", ReplyText: "r", Route: RouteLLM}}
	bc := &recordingBroadcaster{}
	r := newTestRunner(t, fp, bc, nil)

	sess := session.New("s1", "en", "ptt")
	sess.RestoreTurns([]session.Turn{
		{ID: "t1", Transcript: "one", ReplyText: "uno"},
		{ID: "t2", Transcript: "two", ReplyText: "dos"},
	})
	started := sess.StartTurn()

	r.ProcessTurn(context.Background(), turn.ProcessRequest{
		Session: sess,
		TurnID:  started.ID,
		Audio:   make([]byte, 100),
	})

	require.Len(t, fp.history, 2)
	assert.Equal(t, "one", fp.history[0].User)
	assert.Equal(t, "dos", fp.history[1].Assistant)
}
