package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShaperPassesShortReplies(t *testing.T) {
	s := NewShaper(2, 35)
	in := "Dogs are great pets. They love to play!"
	assert.Equal(t, in, s.Shape(in))
}

func TestShaperTruncatesSentences(t *testing.T) {
	s := NewShaper(2, 35)
	got := s.Shape("One. Two. Three. Four.")
	assert.Equal(t, "One. Two.", got)
}

func TestShaperTruncatesWords(t *testing.T) {
	s := NewShaper(10, 5)
	got := s.Shape("this reply runs on and on without a single stop")
	assert.Equal(t, "this reply runs on and...", got)
}

func TestShaperReplacesUnsafeContent(t *testing.T) {
	s := NewShaper(2, 35)
	got := s.Shape("You could use a knife for that.")
	assert.Equal(t, DefaultSafeFallback, got)
}

func TestShaperSentenceCounting(t *testing.T) {
	assert.Equal(t, 1, countSentences("no punctuation here"))
	assert.Equal(t, 3, countSentences("A. B! C?"))
	assert.Equal(t, 0, countSentences("   "))
}

func TestShaperWordTruncationKeepsSentenceBoundary(t *testing.T) {
	s := NewShaper(10, 8)
	got := s.Shape("Cats sleep a lot every single day. They dream too maybe.")
	assert.True(t, strings.HasSuffix(got, "."), "got %q", got)
	assert.Equal(t, "Cats sleep a lot every single day.", got)
}
