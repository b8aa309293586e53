// Package pipeline turns one captured utterance into a spoken reply: speech
// to text, a deterministic skill or LLM completion, kid-mode shaping, then
// text to speech. Backends are HTTP services selected per engine name.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/camara-coder/talking-game/internal/audio"
	"github.com/camara-coder/talking-game/internal/metrics"
	"github.com/camara-coder/talking-game/internal/session"
)

// Options selects engines and prompt behavior for a Pipeline.
type Options struct {
	STTEngine    string
	LLMEngine    string
	TTSEngine    string
	Model        string
	SystemPrompt string
	Voice        string
}

// Result is the outcome of one utterance. Audio may be empty when synthesis
// failed; the text reply is still usable.
type Result struct {
	Transcript string
	ReplyText  string
	Route      string
	Audio      []byte
}

// Pipeline chains the stages behind a single Run call.
type Pipeline struct {
	stt    *STTRouter
	llm    *LLMRouter
	tts    *TTSRouter
	math   *MathSkill
	shaper *Shaper
	opts   Options
}

// New assembles a pipeline from stage routers.
func New(stt *STTRouter, llm *LLMRouter, tts *TTSRouter, shaper *Shaper, opts Options) *Pipeline {
	return &Pipeline{
		stt:    stt,
		llm:    llm,
		tts:    tts,
		math:   NewMathSkill(),
		shaper: shaper,
		opts:   opts,
	}
}

// Run processes one utterance of 16-bit PCM. history is the recent completed
// exchanges of the session, oldest first.
func (p *Pipeline) Run(ctx context.Context, pcm []byte, language string, history []session.ContextTurn) (*Result, error) {
	samples := audio.DecodePCM16(pcm)

	sttRes, err := p.stt.Transcribe(ctx, samples, language, p.opts.STTEngine)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	transcript := strings.TrimSpace(sttRes.Text)
	if transcript == "" {
		return nil, fmt.Errorf("empty transcript")
	}
	slog.Info("transcribed utterance", "text", transcript, "latency_ms", sttRes.LatencyMs)

	reply, route, err := p.answer(ctx, transcript, history)
	if err != nil {
		return nil, err
	}
	reply = p.shaper.Shape(reply)

	res := &Result{
		Transcript: transcript,
		ReplyText:  reply,
		Route:      route,
	}

	ttsRes, err := p.tts.Synthesize(ctx, reply, p.opts.TTSEngine, TTSOptions{Voice: p.opts.Voice})
	if err != nil {
		// A lost voice reply is not fatal; the text still reaches the client.
		slog.Warn("tts synthesis failed", "error", err)
		return res, nil
	}
	res.Audio = ttsRes.Audio
	return res, nil
}

func (p *Pipeline) answer(ctx context.Context, transcript string, history []session.ContextTurn) (string, string, error) {
	start := time.Now()
	if reply, ok := p.math.Try(transcript); ok {
		metrics.StageDuration.WithLabelValues("skill").Observe(time.Since(start).Seconds())
		slog.Info("answered by math skill", "reply", reply)
		return reply, RouteMath, nil
	}

	llmRes, err := p.llm.Chat(ctx, ChatRequest{
		UserMessage:  transcript,
		History:      history,
		SystemPrompt: p.opts.SystemPrompt,
		Model:        p.opts.Model,
	}, p.opts.LLMEngine, nil)
	if err != nil {
		return "", "", fmt.Errorf("llm chat: %w", err)
	}
	return llmRes.Text, RouteLLM, nil
}
