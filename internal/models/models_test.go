package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDesktopSyncState_Clone(t *testing.T) {
	var nilState *DesktopSyncState
	assert.Nil(t, nilState.Clone())

	state := &DesktopSyncState{
		TerminalID:   "desk-1",
		SyncCount:    2,
		LastReport:   &SyncReport{Applied: []string{"a", "b"}, StaleReferences: []string{"z"}, Changed: true},
		LastSnapshot: []string{"a", "z"},
	}
	c := state.Clone()
	assert.Equal(t, state, c)

	c.SyncCount++
	c.LastSnapshot[0] = "x"
	c.LastReport.Applied[0] = "x"
	c.LastReport.Changed = false

	assert.Equal(t, int64(2), state.SyncCount)
	assert.Equal(t, []string{"a", "z"}, state.LastSnapshot)
	assert.Equal(t, []string{"a", "b"}, state.LastReport.Applied)
	assert.True(t, state.LastReport.Changed)
	assert.Nil(t, (&DesktopSyncState{}).Clone().LastReport)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(ActionStart, StatusWaiting))
	assert.False(t, CanTransition(ActionStart, StatusInProgress))

	assert.True(t, CanTransition(ActionComplete, StatusWaiting))
	assert.True(t, CanTransition(ActionComplete, StatusInProgress))
	assert.False(t, CanTransition(ActionComplete, StatusCancelled))
	assert.False(t, CanTransition(ActionComplete, StatusCompleted))

	assert.True(t, CanTransition(ActionRemove, StatusWaiting))
	assert.False(t, CanTransition(ActionRemove, StatusInProgress))
	assert.False(t, CanTransition(ActionRemove, StatusCompleted))

	assert.False(t, CanTransition("rewind", StatusCompleted))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []string{StatusWaiting, StatusInProgress} {
		assert.True(t, IsActiveStatus(s), s)
		assert.False(t, IsTerminalStatus(s), s)
	}
	for _, s := range []string{StatusCompleted, StatusCancelled} {
		assert.False(t, IsActiveStatus(s), s)
		assert.True(t, IsTerminalStatus(s), s)
	}
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Ожидает", StatusLabel(StatusWaiting))
	assert.Equal(t, "Снят", StatusLabel(StatusCancelled))
	assert.Equal(t, "unknown", StatusLabel("unknown"))
}

func TestQueueEntry_Clone(t *testing.T) {
	now := time.Now()
	e := &QueueEntry{ID: "a", Status: StatusInProgress, StartedAt: &now}
	c := e.Clone()
	later := now.Add(time.Minute)
	c.StartedAt = &later
	c.Position = 7

	assert.Equal(t, now, *e.StartedAt)
	assert.Equal(t, 0, e.Position)
	assert.True(t, e.IsActive())
}
