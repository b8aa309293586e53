package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/camara-coder/talking-game/internal/audio"
	"github.com/camara-coder/talking-game/internal/event"
	"github.com/camara-coder/talking-game/internal/metrics"
	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/turn"
)

// Broadcaster fans an event out to every connection of a session.
type Broadcaster interface {
	Broadcast(sessionID string, ev event.Event)
}

// TurnStore persists completed turns. A nil store disables persistence.
type TurnStore interface {
	SaveSession(ctx context.Context, info session.Info) error
	SaveTurn(ctx context.Context, sessionID string, t session.Turn) error
}

// UtterancePipeline is what the runner needs from the reply pipeline.
type UtterancePipeline interface {
	Run(ctx context.Context, pcm []byte, language string, history []session.ContextTurn) (*Result, error)
}

// RunnerConfig tunes the runner.
type RunnerConfig struct {
	AudioDir      string
	TTSSampleRate int
	ContextTurns  int
	IdleDelay     time.Duration
}

// Runner drives a committed utterance through the pipeline and narrates
// progress to the session's connections. It implements turn.Processor.
type Runner struct {
	pipeline    UtterancePipeline
	broadcaster Broadcaster
	store       TurnStore
	cfg         RunnerConfig
}

// NewRunner wires a runner. store may be nil; a nil broadcaster must be set
// with SetBroadcaster before the first turn.
func NewRunner(p UtterancePipeline, b Broadcaster, store TurnStore, cfg RunnerConfig) *Runner {
	return &Runner{pipeline: p, broadcaster: b, store: store, cfg: cfg}
}

// SetBroadcaster attaches the event fan-out. The runner and the connection
// multiplexer reference each other, so one side is wired after construction.
func (r *Runner) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// ProcessTurn runs one committed utterance end to end. The coordinator has
// already moved the session to processing and announced it.
func (r *Runner) ProcessTurn(ctx context.Context, req turn.ProcessRequest) {
	sess := req.Session
	start := time.Now()

	result, err := r.pipeline.Run(ctx, req.Audio, sess.Language, sess.Context(r.cfg.ContextTurns))
	if err != nil {
		r.failTurn(sess, req.TurnID, err)
		return
	}

	r.broadcaster.Broadcast(sess.ID, event.Transcript(sess.ID, req.TurnID, result.Transcript))
	r.broadcaster.Broadcast(sess.ID, event.ReplyText(sess.ID, req.TurnID, result.ReplyText))

	var audioPath string
	var durationMs int
	if len(result.Audio) > 0 {
		audioPath, durationMs, err = r.saveArtifact(sess.ID, req.TurnID, result.Audio)
		if err != nil {
			slog.Warn("audio artifact not saved", "session_id", sess.ID,
				"turn_id", req.TurnID, "error", err)
		} else {
			r.broadcaster.Broadcast(sess.ID, event.AudioReady(sess.ID, req.TurnID,
				artifactURL(sess.ID, req.TurnID), durationMs, r.cfg.TTSSampleRate, 1))
		}
	}

	elapsed := time.Since(start)
	sess.UpdateTurn(func(t *session.Turn) {
		t.Transcript = result.Transcript
		t.ReplyText = result.ReplyText
		t.Route = result.Route
		t.AudioPath = audioPath
		t.AudioDurationMs = durationMs
		t.ProcessingTimeMs = elapsed.Milliseconds()
	})

	sess.SetStatus(session.StatusSpeaking)
	r.broadcaster.Broadcast(sess.ID, event.State(sess.ID, req.TurnID, session.StatusSpeaking))

	// Give the client a beat to start playback before declaring the floor open.
	if r.cfg.IdleDelay > 0 {
		time.Sleep(r.cfg.IdleDelay)
	}

	completed, ok := sess.CompleteTurn()
	if ok {
		r.persist(ctx, sess, completed)
	}
	r.broadcaster.Broadcast(sess.ID, event.State(sess.ID, "", session.StatusIdle))

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	metrics.TurnDuration.Observe(elapsed.Seconds())
	slog.Info("turn completed", "session_id", sess.ID, "turn_id", req.TurnID,
		"route", result.Route, "duration_ms", elapsed.Milliseconds())
}

// failTurn reports a pipeline failure and returns the session to idle without
// recording the turn.
func (r *Runner) failTurn(sess *session.Session, turnID string, err error) {
	slog.Error("turn pipeline failed", "session_id", sess.ID, "turn_id", turnID, "error", err)
	metrics.TurnsTotal.WithLabelValues("error").Inc()

	sess.SetStatus(session.StatusError)
	r.broadcaster.Broadcast(sess.ID, event.Error(sess.ID, turnID,
		event.CodePipelineError, "could not process this turn"))

	sess.AbortTurn()
	r.broadcaster.Broadcast(sess.ID, event.State(sess.ID, "", session.StatusIdle))
}

func (r *Runner) saveArtifact(sessionID, turnID string, wavData []byte) (string, int, error) {
	dir := filepath.Join(r.cfg.AudioDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(dir, turnID+".wav")
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		return "", 0, fmt.Errorf("write audio artifact: %w", err)
	}

	dur, err := audio.WAVDuration(path)
	if err != nil {
		slog.Warn("could not read artifact duration", "path", path, "error", err)
	}
	return path, int(dur.Milliseconds()), nil
}

func (r *Runner) persist(ctx context.Context, sess *session.Session, t session.Turn) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveSession(ctx, sess.Info(false)); err != nil {
		slog.Warn("persist session failed", "session_id", sess.ID, "error", err)
		return
	}
	if err := r.store.SaveTurn(ctx, sess.ID, t); err != nil {
		slog.Warn("persist turn failed", "session_id", sess.ID, "turn_id", t.ID, "error", err)
	}
}

func artifactURL(sessionID, turnID string) string {
	return fmt.Sprintf("/api/audio/%s/%s.wav", sessionID, turnID)
}
