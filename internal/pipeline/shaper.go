package pipeline

import (
	"log/slog"
	"strings"
)

// DefaultUnsafeKeywords is the base blocklist for kid mode.
var DefaultUnsafeKeywords = []string{
	"kill", "hurt", "weapon", "gun", "knife",
	"suicide", "die", "death",
	"drug", "alcohol", "smoke",
	"sex", "naked",
}

// DefaultSafeFallback replaces any reply that trips the blocklist.
const DefaultSafeFallback = "I can't help with that. Let's talk about something safe, like animals or math."

// Shaper enforces kid-mode constraints on reply text: a keyword safety check
// with a fallback reply, then truncation to the sentence and word caps.
type Shaper struct {
	maxSentences int
	maxWords     int
	keywords     []string
	fallback     string
}

// NewShaper creates a shaper. Zero limits disable the respective truncation.
func NewShaper(maxSentences, maxWords int) *Shaper {
	return &Shaper{
		maxSentences: maxSentences,
		maxWords:     maxWords,
		keywords:     DefaultUnsafeKeywords,
		fallback:     DefaultSafeFallback,
	}
}

// Shape returns the kid-safe, length-bounded form of text.
func (s *Shaper) Shape(text string) string {
	if s.containsUnsafe(text) {
		slog.Warn("unsafe reply replaced with fallback")
		return s.fallback
	}

	shaped := text
	if s.maxSentences > 0 && countSentences(shaped) > s.maxSentences {
		shaped = truncateToSentences(shaped, s.maxSentences)
	}
	if s.maxWords > 0 && countWords(shaped) > s.maxWords {
		shaped = truncateToWords(shaped, s.maxWords)
	}

	// Truncation could expose a bad fragment on its own.
	if s.containsUnsafe(shaped) {
		slog.Warn("unsafe shaped reply replaced with fallback")
		return s.fallback
	}
	return strings.TrimSpace(shaped)
}

func (s *Shaper) containsUnsafe(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isSentenceEnder(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		if isSentenceEnder(r) {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		count = 1
	}
	return count
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func truncateToSentences(text string, max int) string {
	count := 0
	for i, r := range text {
		if isSentenceEnder(r) {
			count++
			if count >= max {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return strings.TrimSpace(text)
}

func truncateToWords(text string, max int) string {
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	truncated := strings.Join(words[:max], " ")

	// Prefer ending on a sentence boundary when one lands near the cut.
	lastEnder := -1
	for i, r := range truncated {
		if isSentenceEnder(r) {
			lastEnder = i
		}
	}
	if lastEnder > int(float64(len(truncated))*0.8) {
		return strings.TrimSpace(truncated[:lastEnder+1])
	}
	return strings.TrimSpace(truncated) + "..."
}
