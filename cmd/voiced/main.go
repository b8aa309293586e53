package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camara-coder/talking-game/internal/pipeline"
	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/store"
	"github.com/camara-coder/talking-game/internal/turn"
	"github.com/camara-coder/talking-game/internal/vad"
	"github.com/camara-coder/talking-game/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	var db *store.Store
	if cfg.databaseURL != "" {
		var err error
		db, err = store.Open(cfg.databaseURL)
		if err != nil {
			slog.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("persistence enabled")
	} else {
		slog.Info("persistence disabled, sessions are in-memory only")
	}

	var persister session.Persister
	if db != nil {
		persister = db
	}
	registry := session.NewRegistry(cfg.maxSessions, cfg.sessionTimeout, persister)
	registry.Start(cfg.sweepInterval)
	defer registry.Stop()

	// STT backends
	sttBackends := map[string]pipeline.Transcriber{
		"whisper": pipeline.NewWhisperClient(cfg.whisperURL, cfg.sampleRate, cfg.sttPoolSize),
	}
	sttRouter := pipeline.NewSTTRouter(sttBackends, "whisper")

	// LLM backends
	llmBackends := map[string]pipeline.LLMChatClient{
		"ollama": pipeline.NewOllamaLLMClient(cfg.ollamaURL, cfg.ollamaModel, cfg.systemPrompt, cfg.llmMaxTokens, cfg.llmPoolSize),
	}
	if cfg.openaiURL != "" {
		llmBackends["openai"] = pipeline.NewOpenAICompatClient(cfg.openaiURL, cfg.openaiAPIKey, cfg.openaiModel, cfg.systemPrompt, cfg.llmMaxTokens, cfg.llmPoolSize)
	}
	llmRouter := pipeline.NewLLMRouter(llmBackends, "ollama")

	// TTS backends
	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.ttsPoolSize, 30*time.Second)
	ttsBackends := map[string]pipeline.TTSSynthesizer{
		"piper": pipeline.NewPiperSynthesizer(cfg.piperURL, cfg.piperVoice, ttsHTTP),
	}
	if cfg.elevenlabsKey != "" {
		ttsBackends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsKey, cfg.elevenlabsVoice, cfg.elevenlabsModel, ttsHTTP)
	}
	ttsRouter := pipeline.NewTTSRouter(ttsBackends, "piper")

	shaper := pipeline.NewShaper(cfg.maxSentences, cfg.maxWords)
	pipe := pipeline.New(sttRouter, llmRouter, ttsRouter, shaper, pipeline.Options{
		STTEngine:    "whisper",
		LLMEngine:    cfg.llmEngine,
		TTSEngine:    cfg.ttsEngine,
		SystemPrompt: cfg.systemPrompt,
	})

	var turnStore pipeline.TurnStore
	if db != nil {
		turnStore = db
	}
	runner := pipeline.NewRunner(pipe, nil, turnStore, pipeline.RunnerConfig{
		AudioDir:      cfg.audioDir,
		TTSSampleRate: cfg.ttsSampleRate,
		ContextTurns:  cfg.contextTurns,
		IdleDelay:     cfg.idleDelay,
	})

	coordinator := turn.NewCoordinator(turn.Config{
		SampleRate:    cfg.sampleRate,
		FrameSize:     cfg.frameSize,
		ConfirmWindow: cfg.confirmWindow,
		PostRoll:      cfg.postRoll,
	}, registry, runner, func() vad.Detector {
		return vad.NewEnergyDetector(cfg.vadConfig)
	})
	runner.SetBroadcaster(coordinator)

	if db != nil {
		sweepCtx, sweepCancel := context.WithCancel(context.Background())
		defer sweepCancel()
		db.StartRetentionSweep(sweepCtx, cfg.retentionTick, cfg.retention)
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:       cfg,
		registry:  registry,
		store:     db,
		wsHandler: ws.NewHandler(coordinator),
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("voiced starting", "addr", addr, "max_sessions", cfg.maxSessions)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("voiced stopped")
}
