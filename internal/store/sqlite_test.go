package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "chartbot/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "store.db"),
		PollInterval: 20 * time.Millisecond,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestSQLite(t)

	require.NoError(t, st.Set(ctx, "details/scheduledPosts/g1/j1", Document{
		"command": "chart",
		"period":  float64(60),
	}))
	doc, err := st.Get(ctx, "details/scheduledPosts/g1/j1")
	require.NoError(t, err)
	assert.Equal(t, "chart", doc["command"])
	assert.Equal(t, float64(60), doc["period"])

	require.NoError(t, st.Merge(ctx, "details/scheduledPosts/g1/j1", Document{
		"stale": Document{"count": Increment(1)},
	}))
	doc, err = st.Get(ctx, "details/scheduledPosts/g1/j1")
	require.NoError(t, err)
	assert.Equal(t, "chart", doc["command"])
	assert.Equal(t, float64(1), doc["stale"].(map[string]any)["count"])

	docs, err := st.List(ctx, "details/scheduledPosts/g1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, st.Delete(ctx, "details/scheduledPosts/g1/j1"))
	_, err = st.Get(ctx, "details/scheduledPosts/g1/j1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, st.Delete(ctx, "details/scheduledPosts/g1/j1"))
}

func TestSQLiteWatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestSQLite(t)

	events, unsub, err := st.Watch("discord/properties/messages")
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, st.Set(ctx, "discord/properties/messages/m1", Document{"title": "t"}))
	e := recvEvent(t, events)
	assert.Equal(t, Added, e.Type)
	assert.Equal(t, "m1", e.ID)

	require.NoError(t, st.Set(ctx, "discord/properties/messages/m1", Document{"title": "t2"}))
	e = recvEvent(t, events)
	assert.Equal(t, Modified, e.Type)
	assert.Equal(t, "t2", e.Doc["title"])

	require.NoError(t, st.Delete(ctx, "discord/properties/messages/m1"))
	e = recvEvent(t, events)
	assert.Equal(t, Removed, e.Type)
}
