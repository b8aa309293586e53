package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePersister struct {
	sessions map[string]Info
	turns    map[string][]Turn
	deleted  []string
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		sessions: make(map[string]Info),
		turns:    make(map[string][]Turn),
	}
}

func (p *fakePersister) LoadSession(_ context.Context, id string) (Info, []Turn, error) {
	info, ok := p.sessions[id]
	if !ok {
		return Info{}, nil, errors.New("not found")
	}
	return info, p.turns[id], nil
}

func (p *fakePersister) DeleteSession(_ context.Context, id string) error {
	p.deleted = append(p.deleted, id)
	return nil
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry(10, time.Minute, nil)
	s := r.Create("s1", "en", "ptt")

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryCapacityEvictsOldestIdle(t *testing.T) {
	r := NewRegistry(2, time.Minute, nil)

	oldest := r.Create("s1", "en", "ptt")
	oldest.SetStatus(StatusIdle)
	time.Sleep(2 * time.Millisecond)
	r.Create("s2", "en", "ptt")

	r.Create("s3", "en", "ptt")
	assert.Equal(t, 2, r.Count())
	_, ok := r.Get("s1")
	assert.False(t, ok, "oldest idle session is evicted at capacity")
	_, ok = r.Get("s3")
	assert.True(t, ok)
}

func TestRegistryCapacitySparesBusySessions(t *testing.T) {
	r := NewRegistry(2, time.Minute, nil)

	busy := r.Create("s1", "en", "ptt")
	busy.StartTurn()
	time.Sleep(2 * time.Millisecond)
	r.Create("s2", "en", "ptt")

	r.Create("s3", "en", "ptt")
	_, ok := r.Get("s1")
	assert.True(t, ok, "a session mid-turn is never capacity-evicted")
	_, ok = r.Get("s2")
	assert.False(t, ok)
}

func TestRegistryResumeFromStore(t *testing.T) {
	p := newFakePersister()
	p.sessions["s1"] = Info{SessionID: "s1", Language: "fr", Mode: "vad"}
	p.turns["s1"] = []Turn{{ID: "t1", Transcript: "hi", ReplyText: "bonjour"}}

	r := NewRegistry(10, time.Minute, p)
	s := r.ResumeOrCreate(context.Background(), "s1")

	assert.Equal(t, "fr", s.Language)
	require.Len(t, s.Turns(), 1)

	// Second call hits the live registry, not the store.
	again := r.ResumeOrCreate(context.Background(), "s1")
	assert.Same(t, s, again)
}

func TestRegistryResumeUnknownCreatesFresh(t *testing.T) {
	r := NewRegistry(10, time.Minute, newFakePersister())
	s := r.ResumeOrCreate(context.Background(), "brand-new")
	assert.Equal(t, "brand-new", s.ID)
	assert.Empty(t, s.Turns())
}

func TestRegistryDeleteRemovesEverywhere(t *testing.T) {
	p := newFakePersister()
	r := NewRegistry(10, time.Minute, p)
	r.Create("s1", "en", "ptt")

	assert.True(t, r.Delete(context.Background(), "s1"))
	_, ok := r.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, []string{"s1"}, p.deleted)

	assert.False(t, r.Delete(context.Background(), "s1"))
}

func TestRegistryReleaseKeepsPersistedRows(t *testing.T) {
	p := newFakePersister()
	r := NewRegistry(10, time.Minute, p)
	r.Create("s1", "en", "ptt")

	released, ok := r.Release("s1")
	require.True(t, ok)
	assert.Equal(t, "s1", released.ID)
	_, live := r.Get("s1")
	assert.False(t, live)
	assert.Empty(t, p.deleted, "release never deletes stored history")

	_, ok = r.Release("s1")
	assert.False(t, ok)
}

func TestRegistrySweepExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(10, 20*time.Millisecond, nil)
	r.Create("s1", "en", "ptt")

	time.Sleep(30 * time.Millisecond)
	fresh := r.Create("s2", "en", "ptt")

	r.sweepExpired()
	_, ok := r.Get("s1")
	assert.False(t, ok)
	got, ok := r.Get("s2")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}
