package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
	StatusError      Status = "error"
)

// Turn is one user-utterance-to-reply exchange. A turn is mutable while it is
// the session's current turn and immutable once appended to history.
type Turn struct {
	ID               string    `json:"turn_id"`
	Timestamp        time.Time `json:"timestamp"`
	Transcript       string    `json:"transcript,omitempty"`
	ReplyText        string    `json:"reply_text,omitempty"`
	Route            string    `json:"route,omitempty"`
	AudioPath        string    `json:"audio_path,omitempty"`
	AudioDurationMs  int       `json:"audio_duration_ms,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
}

// ContextTurn is one completed exchange passed to the LLM as history.
type ContextTurn struct {
	User      string
	Assistant string
}

// Session is one conversation with its turn history and at most one turn in
// progress. CurrentTurn is non-nil only while the status is listening,
// processing or speaking.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Language  string
	Mode      string

	mu          sync.Mutex
	status      Status
	turns       []Turn
	currentTurn *Turn
}

// New creates an idle session. An empty id gets a generated UUID.
func New(id, language, mode string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Language:  language,
		Mode:      mode,
		status:    StatusIdle,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the session and bumps the activity timestamp.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.UpdatedAt = time.Now().UTC()
}

// Touch bumps the activity timestamp without a state change.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdatedAt = time.Now().UTC()
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UpdatedAt
}

// StartTurn begins a new turn and moves the session to listening. Starting a
// turn while one is in progress is an idempotent no-op that returns the
// existing turn.
func (s *Session) StartTurn() Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTurn != nil {
		return *s.currentTurn
	}

	turn := &Turn{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
	s.currentTurn = turn
	s.status = StatusListening
	s.UpdatedAt = time.Now().UTC()
	return *turn
}

// CurrentTurnID returns the in-progress turn id, or "" when idle.
func (s *Session) CurrentTurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTurn == nil {
		return ""
	}
	return s.currentTurn.ID
}

// UpdateTurn applies fn to the in-progress turn, if any.
func (s *Session) UpdateTurn(fn func(*Turn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTurn != nil {
		fn(s.currentTurn)
	}
}

// CompleteTurn appends the current turn to history, detaches it, and returns
// the session to idle. Returns the completed turn and false if no turn was in
// progress.
func (s *Session) CompleteTurn() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTurn == nil {
		s.status = StatusIdle
		return Turn{}, false
	}

	turn := *s.currentTurn
	s.turns = append(s.turns, turn)
	s.currentTurn = nil
	s.status = StatusIdle
	s.UpdatedAt = time.Now().UTC()
	return turn, true
}

// AbortTurn discards the current turn without appending it to history and
// returns the session to idle. Used after a pipeline failure.
func (s *Session) AbortTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTurn = nil
	s.status = StatusIdle
	s.UpdatedAt = time.Now().UTC()
}

// Context returns up to n most recent completed exchanges for LLM history.
// Turns missing a transcript or reply are skipped.
func (s *Session) Context(n int) []ContextTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	var ctx []ContextTurn
	for _, t := range s.turns[start:] {
		if t.Transcript == "" || t.ReplyText == "" {
			continue
		}
		ctx = append(ctx, ContextTurn{User: t.Transcript, Assistant: t.ReplyText})
	}
	return ctx
}

// Turns returns a copy of the completed turn history.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// RestoreTurns seeds the history from persisted records, oldest first.
func (s *Session) RestoreTurns(turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append([]Turn(nil), turns...)
}

// Info is an immutable snapshot for API responses.
type Info struct {
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Status     Status    `json:"status"`
	Language   string    `json:"language"`
	Mode       string    `json:"mode"`
	TotalTurns int       `json:"total_turns"`
	Turns      []Turn    `json:"turns,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info(includeTurns bool) Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		SessionID:  s.ID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		Status:     s.status,
		Language:   s.Language,
		Mode:       s.Mode,
		TotalTurns: len(s.turns),
	}
	if includeTurns {
		info.Turns = append([]Turn(nil), s.turns...)
	}
	return info
}
