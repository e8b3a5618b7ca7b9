package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnsession/pkg/types"
)

func TestListActiveSessions_FiltersByChild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.createStarted(t, "child-middle", 0)
	env.clock.Advance(time.Second)
	b := env.createStarted(t, "child-middle", 0)
	env.clock.Advance(time.Second)
	env.createStarted(t, "child-small", 0)

	sessions, err := env.manager.ListActiveSessions(ctx, "child-middle")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, b.ID, sessions[0].ID, "newest first")
	assert.Equal(t, a.ID, sessions[1].ID)

	all, err := env.manager.ListActiveSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSearchSessions_Filters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mathReq := lessonRequest("child-middle", 0)
	mathReq.Tags = []string{"numbers", "morning"}
	mathSess, err := env.manager.CreateSession(ctx, mathReq)
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	cutoff := env.clock.Now()

	readReq := lessonRequest("child-middle", 0)
	readReq.SessionType = types.SessionTypePractice
	readReq.Subject = "reading"
	readReq.Tags = []string{"morning"}
	readSess, err := env.manager.CreateSession(ctx, readReq)
	require.NoError(t, err)
	_, err = env.manager.StartSession(ctx, readSess.ID)
	require.NoError(t, err)
	_, err = env.manager.AbandonSession(ctx, readSess.ID)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter types.SessionFilter
		want   []string
	}{
		{name: "everything", filter: types.SessionFilter{}, want: []string{readSess.ID, mathSess.ID}},
		{name: "by subject", filter: types.SessionFilter{Subject: "math"}, want: []string{mathSess.ID}},
		{name: "by type", filter: types.SessionFilter{SessionType: types.SessionTypePractice}, want: []string{readSess.ID}},
		{name: "archived state", filter: types.SessionFilter{State: types.StateAbandoned}, want: []string{readSess.ID}},
		{name: "all tags must match", filter: types.SessionFilter{Tags: []string{"numbers", "morning"}}, want: []string{mathSess.ID}},
		{name: "from cutoff", filter: types.SessionFilter{From: &cutoff}, want: []string{readSess.ID}},
		{name: "other child", filter: types.SessionFilter{ChildID: "child-small"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.manager.SearchSessions(ctx, tt.filter)
			require.NoError(t, err)

			var ids []string
			for _, s := range page.Sessions {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), page.Total)
		})
	}
}

func TestSearchSessions_Pagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		req := lessonRequest("child-older", 0)
		req.Title = fmt.Sprintf("Session %d", i)
		_, err := env.manager.CreateSession(ctx, req)
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	page, err := env.manager.SearchSessions(ctx, types.SessionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, DefaultPageSize, page.Limit)
	assert.Len(t, page.Sessions, DefaultPageSize)
	assert.Equal(t, "Session 24", page.Sessions[0].Title)

	page, err = env.manager.SearchSessions(ctx, types.SessionFilter{Offset: 20, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.Limit)
	assert.Len(t, page.Sessions, 5)

	page, err = env.manager.SearchSessions(ctx, types.SessionFilter{Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, page.Sessions)
	assert.Equal(t, 25, page.Offset)
}

func TestPruneArchive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := env.createStarted(t, "child-middle", 0)
	_, err := env.manager.CompleteSession(ctx, old.ID)
	require.NoError(t, err)

	env.clock.Advance(20 * time.Hour)
	recent := env.createStarted(t, "child-middle", 0)
	_, err = env.manager.AbandonSession(ctx, recent.ID)
	require.NoError(t, err)
	open := env.createStarted(t, "child-middle", 0)

	env.clock.Advance(5 * time.Hour)
	removed := env.manager.PruneArchive(env.clock.Now())
	assert.Equal(t, 1, removed)

	_, err = env.manager.GetSession(ctx, old.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = env.manager.GetSession(ctx, recent.ID)
	require.NoError(t, err)
	_, err = env.manager.GetSession(ctx, open.ID)
	require.NoError(t, err, "open sessions are never pruned")
}
