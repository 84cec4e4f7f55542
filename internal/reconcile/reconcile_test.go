package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chartbot/internal/membership"
	"chartbot/internal/store"
	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

type fakeRoster struct {
	mu     sync.Mutex
	guilds []transport.GuildInfo
}

func (f *fakeRoster) Guilds() []transport.GuildInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.GuildInfo, len(f.guilds))
	copy(out, f.guilds)
	return out
}

type fakeLeaver struct {
	mu   sync.Mutex
	left []string
}

func (f *fakeLeaver) LeaveGuild(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, guildID)
	return nil
}

func newFixture(t *testing.T, cfg Config, guilds ...transport.GuildInfo) (*Service, store.Store, *membership.Service, *fakeLeaver) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "memory"}, logx.Logger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	members := membership.New(st, logx.Logger{})
	leaver := &fakeLeaver{}
	svc := New(cfg, &fakeRoster{guilds: guilds}, leaver, st, members, logx.Logger{})
	return svc, st, members, leaver
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func TestSanitySymmetricDifference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Live {A,B}, persisted {B,C}: A gets a default record, C gets a stale
	// mark, B is left untouched.
	svc, st, _, _ := newFixture(t, Config{},
		transport.GuildInfo{ID: "A"}, transport.GuildInfo{ID: "B"})

	bDoc := store.Document{"settings": map[string]any{"custom": true}}
	require.NoError(t, st.Set(ctx, store.JoinPath(membership.GuildPropertiesCollection, "B"), bDoc))
	require.NoError(t, st.Set(ctx, store.JoinPath(membership.GuildPropertiesCollection, "C"), store.Document{}))

	before := time.Now().Unix()
	require.NoError(t, svc.Sanity(ctx))

	a, err := st.Get(ctx, store.JoinPath(membership.GuildPropertiesCollection, "A"))
	require.NoError(t, err)
	require.Contains(t, a, "settings", "missing live guild gets the default record")

	b, err := st.Get(ctx, store.JoinPath(membership.GuildPropertiesCollection, "B"))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"custom": true}, b["settings"])
	require.NotContains(t, b, "stale")

	c, err := st.Get(ctx, store.JoinPath(membership.GuildPropertiesCollection, "C"))
	require.NoError(t, err)
	stale, ok := c["stale"].(map[string]any)
	require.True(t, ok, "record without a live guild is marked stale, not deleted")
	require.EqualValues(t, 1, stale["count"])
	require.GreaterOrEqual(t, asInt64(stale["timestamp"]), before)

	// A second pass accumulates the counter instead of resetting it.
	require.NoError(t, svc.Sanity(ctx))
	c, err = st.Get(ctx, store.JoinPath(membership.GuildPropertiesCollection, "C"))
	require.NoError(t, err)
	require.EqualValues(t, 2, c["stale"].(map[string]any)["count"])
}

func TestBrandingDropsGoneAndSmallGuilds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, members, _ := newFixture(t, Config{},
		transport.GuildInfo{ID: "big", Name: "Big", BotNick: "Charts", MemberCount: 50},
		transport.GuildInfo{ID: "small", Name: "Small", BotNick: "Charts", MemberCount: 3})

	allowed := false
	members.SetBranding("big", membership.Branding{Nickname: "Charts", ServerName: "Big", Allowed: &allowed})
	members.SetBranding("small", membership.Branding{Nickname: "Charts", ServerName: "Small"})
	members.SetBranding("gone", membership.Branding{Nickname: "Charts", ServerName: "Gone"})

	require.NoError(t, svc.Branding(ctx))

	b, ok := members.Branding("big")
	require.True(t, ok)
	require.NotNil(t, b.Allowed, "unchanged branding keeps its verdict")

	_, ok = members.Branding("small")
	require.False(t, ok, "guild below the member floor is dropped")
	_, ok = members.Branding("gone")
	require.False(t, ok, "guild missing from the live roster is dropped")
}

func TestBrandingSelfHealsOnRename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, st, members, _ := newFixture(t, Config{},
		transport.GuildInfo{ID: "g", Name: "Renamed", BotNick: "NewNick", MemberCount: 50})

	allowed := false
	members.SetBranding("g", membership.Branding{Nickname: "OldNick", ServerName: "Old", Allowed: &allowed})

	require.NoError(t, svc.Branding(ctx))

	b, ok := members.Branding("g")
	require.True(t, ok)
	require.Equal(t, "NewNick", b.Nickname)
	require.Equal(t, "Renamed", b.ServerName)
	require.Nil(t, b.Allowed, "rename resets the review verdict")

	// The pass persists the snapshot for the next process.
	doc, err := st.Get(ctx, membership.SettingsPath)
	require.NoError(t, err)
	require.Contains(t, doc, "nicknames")
}

func TestBrandingDiscoversNewGuilds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, members, _ := newFixture(t, Config{},
		transport.GuildInfo{ID: "fresh", Name: "Fresh", BotNick: "Charts", MemberCount: 20})

	require.NoError(t, svc.Branding(ctx))

	b, ok := members.Branding("fresh")
	require.True(t, ok)
	require.Equal(t, "Charts", b.Nickname)
	require.Nil(t, b.Allowed)
}

func TestBrandingLeavesBannedGuilds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, members, leaver := newFixture(t, Config{BannedGuilds: []string{"bad"}},
		transport.GuildInfo{ID: "bad", Name: "Bad", MemberCount: 100},
		transport.GuildInfo{ID: "ok", Name: "OK", MemberCount: 100})

	require.NoError(t, svc.Branding(ctx))

	require.Equal(t, []string{"bad"}, leaver.left)
	_, ok := members.Branding("bad")
	require.False(t, ok)
	_, ok = members.Branding("ok")
	require.True(t, ok)
	require.True(t, svc.Banned("bad"))
	require.False(t, svc.Banned("ok"))
}

func TestCensus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, st, _, _ := newFixture(t, Config{CensusFloor: 1},
		transport.GuildInfo{ID: "a"}, transport.GuildInfo{ID: "b"}, transport.GuildInfo{ID: "c"})
	svc.now = func() time.Time { return time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, svc.Census(ctx))

	doc, err := st.Get(ctx, StatisticsPath)
	require.NoError(t, err)
	month, ok := doc["2025-03"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 3, month["servers"])
}

func TestCensusRespectsFloor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, st, _, _ := newFixture(t, Config{CensusFloor: 5},
		transport.GuildInfo{ID: "a"}, transport.GuildInfo{ID: "b"})

	require.NoError(t, svc.Census(ctx))

	_, err := st.Get(ctx, StatisticsPath)
	require.ErrorIs(t, err, store.ErrNotFound)
}
