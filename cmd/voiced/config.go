package main

import (
	"time"

	"github.com/camara-coder/talking-game/internal/env"
	"github.com/camara-coder/talking-game/internal/prompts"
	"github.com/camara-coder/talking-game/internal/vad"
)

type config struct {
	port string

	// capture
	sampleRate    int
	frameSize     int
	confirmWindow time.Duration
	postRoll      time.Duration
	vadConfig     vad.EnergyConfig

	// sessions
	maxSessions    int
	sessionTimeout time.Duration
	sweepInterval  time.Duration
	contextTurns   int

	// pipeline backends
	whisperURL      string
	ollamaURL       string
	ollamaModel     string
	openaiURL       string
	openaiAPIKey    string
	openaiModel     string
	llmEngine       string
	llmMaxTokens    int
	systemPrompt    string
	piperURL        string
	piperVoice      string
	elevenlabsKey   string
	elevenlabsVoice string
	elevenlabsModel string
	ttsEngine       string
	ttsSampleRate   int
	sttPoolSize     int
	llmPoolSize     int
	ttsPoolSize     int

	// reply shaping
	maxSentences int
	maxWords     int

	// artifacts and persistence
	audioDir      string
	databaseURL   string
	retention     time.Duration
	retentionTick time.Duration
	idleDelay     time.Duration
}

func loadConfig() config {
	vadCfg := vad.DefaultEnergyConfig()
	vadCfg.SpeechThresholdDB = env.Float("VAD_SPEECH_THRESHOLD_DB", vadCfg.SpeechThresholdDB)
	vadCfg.SilenceHangover = env.Duration("VAD_SILENCE_HANGOVER", vadCfg.SilenceHangover)
	vadCfg.MinSpeechDuration = env.Duration("VAD_MIN_SPEECH", vadCfg.MinSpeechDuration)
	vadCfg.SampleRate = env.Int("AUDIO_SAMPLE_RATE", vadCfg.SampleRate)

	return config{
		port: env.Str("PORT", "8000"),

		sampleRate:    env.Int("AUDIO_SAMPLE_RATE", 16000),
		frameSize:     env.Int("VAD_FRAME_SIZE", 512),
		confirmWindow: env.Duration("ENDPOINT_CONFIRM_WINDOW", 400*time.Millisecond),
		postRoll:      env.Duration("ENDPOINT_POST_ROLL", 240*time.Millisecond),
		vadConfig:     vadCfg,

		maxSessions:    env.Int("MAX_CONCURRENT_SESSIONS", 10),
		sessionTimeout: env.Duration("SESSION_TIMEOUT", 300*time.Second),
		sweepInterval:  env.Duration("SESSION_SWEEP_INTERVAL", 60*time.Second),
		contextTurns:   env.Int("LLM_CONTEXT_TURNS", 4),

		whisperURL:      env.Str("WHISPER_URL", "http://localhost:8080"),
		ollamaURL:       env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:     env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		openaiURL:       env.Str("OPENAI_BASE_URL", ""),
		openaiAPIKey:    env.Str("OPENAI_API_KEY", ""),
		openaiModel:     env.Str("OPENAI_MODEL", "gpt-4o-mini"),
		llmEngine:       env.Str("LLM_ENGINE", "ollama"),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 150),
		systemPrompt:    env.Str("LLM_SYSTEM_PROMPT", prompts.KidMode),
		piperURL:        env.Str("PIPER_URL", "http://localhost:5100"),
		piperVoice:      env.Str("PIPER_VOICE", "en_US-lessac-medium"),
		elevenlabsKey:   env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoice: env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModel: env.Str("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		ttsEngine:       env.Str("TTS_ENGINE", "piper"),
		ttsSampleRate:   env.Int("TTS_SAMPLE_RATE", 24000),
		sttPoolSize:     env.Int("STT_POOL_SIZE", 10),
		llmPoolSize:     env.Int("LLM_POOL_SIZE", 10),
		ttsPoolSize:     env.Int("TTS_POOL_SIZE", 10),

		maxSentences: env.Int("MAX_RESPONSE_SENTENCES", 2),
		maxWords:     env.Int("MAX_RESPONSE_WORDS", 35),

		audioDir:      env.Str("AUDIO_DIR", "data/audio"),
		databaseURL:   env.Str("DATABASE_URL", ""),
		retention:     env.Duration("SESSION_RETENTION", 7*24*time.Hour),
		retentionTick: env.Duration("RETENTION_SWEEP_INTERVAL", time.Hour),
		idleDelay:     env.Duration("SPEAKING_IDLE_DELAY", 500*time.Millisecond),
	}
}
