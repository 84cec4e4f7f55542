// Package reconcile repairs drift between live session membership and the
// persisted per-guild records, and keeps the branding cache honest.
package reconcile

import (
	"context"
	"time"

	"chartbot/internal/membership"
	"chartbot/internal/store"
	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

// StatisticsPath is the document accumulating the monthly guild census.
const StatisticsPath = "discord/statistics"

// Leaver removes the bot from a guild. Satisfied by the transport session.
type Leaver interface {
	LeaveGuild(ctx context.Context, guildID string) error
}

type Config struct {
	// MinMembers is the floor below which a guild is dropped from the
	// branding cache. Zero means the default of 10.
	MinMembers int
	// CensusFloor suppresses the census write when the live guild count is
	// at or below it. Zero keeps every non-empty count.
	CensusFloor int
	// BannedGuilds are left during the branding pass and refused on join.
	BannedGuilds []string
}

func (c Config) withDefaults() Config {
	if c.MinMembers <= 0 {
		c.MinMembers = 10
	}
	return c
}

type Service struct {
	cfg     Config
	roster  transport.Roster
	leaver  Leaver
	docs    store.Store
	members *membership.Service
	log     logx.Logger

	banned map[string]bool
	now    func() time.Time
}

func New(cfg Config, roster transport.Roster, leaver Leaver, docs store.Store, members *membership.Service, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	banned := make(map[string]bool, len(cfg.BannedGuilds))
	for _, id := range cfg.BannedGuilds {
		banned[id] = true
	}
	return &Service{
		cfg:     cfg,
		roster:  roster,
		leaver:  leaver,
		docs:    docs,
		members: members,
		log:     log,
		banned:  banned,
		now:     time.Now,
	}
}

// Banned reports whether a guild is on the refuse list.
func (s *Service) Banned(guildID string) bool { return s.banned[guildID] }

// Sanity compares live guild membership against the persisted property
// records. Live guilds without a record get a default one; records whose
// guild is gone are marked stale. Records are never deleted here.
func (s *Service) Sanity(ctx context.Context) error {
	live := map[string]bool{}
	for _, g := range s.roster.Guilds() {
		live[g.ID] = true
	}

	persisted, err := s.docs.List(ctx, membership.GuildPropertiesCollection)
	if err != nil {
		return err
	}

	var created, staled int
	for id := range live {
		if _, ok := persisted[id]; ok {
			continue
		}
		path := store.JoinPath(membership.GuildPropertiesCollection, id)
		if err := s.docs.Set(ctx, path, membership.DefaultGuildSettings()); err != nil {
			return err
		}
		created++
	}
	for id := range persisted {
		if live[id] {
			continue
		}
		path := store.JoinPath(membership.GuildPropertiesCollection, id)
		mark := store.Document{
			"stale": map[string]any{
				"count":     store.Increment(1),
				"timestamp": s.now().Unix(),
			},
		}
		if err := s.docs.Merge(ctx, path, mark); err != nil {
			return err
		}
		staled++
	}

	if created > 0 || staled > 0 {
		s.log.Info("sanity pass reconciled guild records",
			logx.Int("created", created), logx.Int("staled", staled))
	}
	return nil
}

// Branding refreshes the branding cache from the live roster, leaves banned
// guilds, and persists the resulting snapshot.
func (s *Service) Branding(ctx context.Context) error {
	live := map[string]transport.GuildInfo{}
	for _, g := range s.roster.Guilds() {
		live[g.ID] = g
	}

	for id := range live {
		if !s.banned[id] {
			continue
		}
		s.log.Warn("leaving banned guild", logx.String("guild", id))
		if err := s.leaver.LeaveGuild(ctx, id); err != nil {
			s.log.Error("leave banned guild failed", logx.String("guild", id), logx.Err(err))
		}
		delete(live, id)
		s.members.DropBranding(id)
	}

	for _, id := range s.members.BrandedGuildIDs() {
		g, ok := live[id]
		if !ok || g.MemberCount < s.cfg.MinMembers {
			s.members.DropBranding(id)
			continue
		}
		b, _ := s.members.Branding(id)
		if g.BotNick != b.Nickname || g.Name != b.ServerName {
			// Observed branding changed since the last review. Record the
			// new names and reset the review verdict.
			s.members.SetBranding(id, membership.Branding{
				Nickname:   g.BotNick,
				ServerName: g.Name,
			})
		}
	}

	for id, g := range live {
		if g.MemberCount < s.cfg.MinMembers {
			continue
		}
		if _, ok := s.members.Branding(id); ok {
			continue
		}
		s.members.SetBranding(id, membership.Branding{
			Nickname:   g.BotNick,
			ServerName: g.Name,
		})
	}

	return s.members.Persist(ctx)
}

// Census records the current guild count under the current month.
func (s *Service) Census(ctx context.Context) error {
	n := len(s.roster.Guilds())
	if n <= s.cfg.CensusFloor {
		return nil
	}
	month := s.now().UTC().Format("2006-01")
	return s.docs.Merge(ctx, StatisticsPath, store.Document{
		month: map[string]any{"servers": n},
	})
}
