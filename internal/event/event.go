// Package event defines the envelope broadcast to every connection of a
// session and typed constructors for each event kind.
package event

import (
	"time"

	"github.com/camara-coder/talking-game/internal/session"
)

// Type identifies an event kind on the wire.
type Type string

const (
	TypeState      Type = "state"
	TypeTranscript Type = "transcript.final"
	TypeReplyText  Type = "reply.text"
	TypeAudioReady Type = "reply.audio_ready"
	TypeError      Type = "error"
)

// Error codes surfaced to clients.
const (
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeNoAudio         = "NO_AUDIO"
	CodePipelineError   = "PIPELINE_ERROR"
	CodeProcessingError = "PROCESSING_ERROR"
)

// Event is the envelope sent over the event stream.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	TS        time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

// StatePayload carries a session state change.
type StatePayload struct {
	State session.Status `json:"state"`
}

// TextPayload carries a transcript or reply text.
type TextPayload struct {
	Text string `json:"text"`
}

// AudioReadyPayload announces a synthesized reply artifact.
type AudioReadyPayload struct {
	URL          string `json:"url"`
	DurationMs   int    `json:"duration_ms"`
	Format       string `json:"format"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ErrorPayload carries a user-visible error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newEvent(t Type, sessionID, turnID string, payload any) Event {
	return Event{
		Type:      t,
		SessionID: sessionID,
		TurnID:    turnID,
		TS:        time.Now().UTC(),
		Payload:   payload,
	}
}

// State builds a state-change event.
func State(sessionID, turnID string, state session.Status) Event {
	return newEvent(TypeState, sessionID, turnID, StatePayload{State: state})
}

// Transcript builds a final-transcript event.
func Transcript(sessionID, turnID, text string) Event {
	return newEvent(TypeTranscript, sessionID, turnID, TextPayload{Text: text})
}

// ReplyText builds a reply-text event.
func ReplyText(sessionID, turnID, text string) Event {
	return newEvent(TypeReplyText, sessionID, turnID, TextPayload{Text: text})
}

// AudioReady builds an audio-artifact event.
func AudioReady(sessionID, turnID, url string, durationMs, sampleRateHz, channels int) Event {
	return newEvent(TypeAudioReady, sessionID, turnID, AudioReadyPayload{
		URL:          url,
		DurationMs:   durationMs,
		Format:       "wav",
		SampleRateHz: sampleRateHz,
		Channels:     channels,
	})
}

// Error builds an error event.
func Error(sessionID, turnID, code, message string) Event {
	return newEvent(TypeError, sessionID, turnID, ErrorPayload{Code: code, Message: message})
}
