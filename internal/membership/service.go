// Package membership owns the per-guild settings snapshot and the branding
// annotations used to detect unauthorized re-branding.
//
// What used to be ambient global state is an injected service with an
// internal lock: the snapshot applier, both reconciliation passes, and the
// command gate all go through it. The persisted copy under SettingsPath is
// the source of truth across restarts; the in-memory view is advisory and
// self-healing.
package membership

import (
	"context"
	"errors"
	"sync"

	"chartbot/internal/store"
	logx "chartbot/pkg/logx"
)

// SettingsPath is the document holding the process settings snapshot.
const SettingsPath = "discord/settings"

// GuildPropertiesCollection holds one properties document per guild.
const GuildPropertiesCollection = "discord/properties/guilds"

// Branding is one guild's cached display-name expectation.
// Allowed is tri-state: nil means "not reviewed yet".
type Branding struct {
	Nickname   string
	ServerName string
	Allowed    *bool
}

type Service struct {
	docs store.Store
	log  logx.Logger

	mu        sync.Mutex
	settings  store.Document
	nicknames map[string]Branding

	onPrimed func()
	primed   bool

	unsub func()
}

func New(docs store.Store, log logx.Logger) *Service {
	return &Service{
		docs:      docs,
		log:       log,
		settings:  store.Document{},
		nicknames: map[string]Branding{},
	}
}

// OnFirstSnapshot registers a hook fired once, when the first settings
// snapshot lands. The readiness gate's caches-primed flag hangs off this.
func (s *Service) OnFirstSnapshot(fn func()) { s.onPrimed = fn }

// Start loads the persisted snapshot and follows changes to it.
func (s *Service) Start(ctx context.Context) error {
	collection, _ := store.SplitPath(SettingsPath)
	events, unsub, err := s.docs.Watch(collection)
	if err != nil {
		return err
	}
	s.unsub = unsub

	doc, err := s.docs.Get(ctx, SettingsPath)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		unsub()
		return err
	}
	// A fresh store has no settings document yet. That still counts as the
	// first snapshot: downstream consumers wait on the primed hook, and the
	// document only ever gets created by code running behind it.
	s.ApplySnapshot(doc)

	go s.follow(ctx, events)
	return nil
}

func (s *Service) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Service) follow(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Path != SettingsPath || e.Type == store.Removed {
				continue
			}
			s.ApplySnapshot(e.Doc)
		}
	}
}

// ApplySnapshot replaces the cached view with a settings document.
func (s *Service) ApplySnapshot(doc store.Document) {
	s.mu.Lock()
	s.settings = doc.Clone()
	s.nicknames = decodeNicknames(doc)
	fire := !s.primed
	s.primed = true
	s.mu.Unlock()

	if fire {
		s.log.Info("settings snapshot primed", logx.Int("brandings", len(s.nicknames)))
		if s.onPrimed != nil {
			s.onPrimed()
		}
	}
}

// Branding returns the cached expectation for a guild.
func (s *Service) Branding(guildID string) (Branding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.nicknames[guildID]
	return b, ok
}

// SetBranding records the observed branding for a guild.
func (s *Service) SetBranding(guildID string, b Branding) {
	s.mu.Lock()
	s.nicknames[guildID] = b
	s.mu.Unlock()
}

// DropBranding forgets a guild. Dropping an absent guild is a no-op.
func (s *Service) DropBranding(guildID string) {
	s.mu.Lock()
	delete(s.nicknames, guildID)
	s.mu.Unlock()
}

// BrandedGuildIDs lists guilds with a cached branding entry.
func (s *Service) BrandedGuildIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.nicknames))
	for id := range s.nicknames {
		out = append(out, id)
	}
	return out
}

// BrandingViolated reports whether a guild was flagged for re-branding and
// still carries the flagged nickname.
func (s *Service) BrandingViolated(guildID, currentNick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.nicknames[guildID]
	if !ok || b.Allowed == nil || *b.Allowed {
		return false
	}
	return currentNick == b.Nickname
}

// Persist writes the current snapshot back to the store.
func (s *Service) Persist(ctx context.Context) error {
	s.mu.Lock()
	doc := s.settings.Clone()
	if doc == nil {
		doc = store.Document{}
	}
	doc["nicknames"] = encodeNicknames(s.nicknames)
	s.settings = doc.Clone()
	s.mu.Unlock()

	return s.docs.Set(ctx, SettingsPath, doc)
}

// DefaultGuildSettings is the factory for a fresh guild properties record.
func DefaultGuildSettings() store.Document {
	return store.Document{
		"addons": map[string]any{
			"satellites": map[string]any{"enabled": false},
			"scheduled":  map[string]any{"enabled": false},
		},
		"settings": map[string]any{
			"assistant": map[string]any{"enabled": true},
			"setup":     map[string]any{"completed": false, "connection": nil},
		},
	}
}

func decodeNicknames(doc store.Document) map[string]Branding {
	out := map[string]Branding{}
	raw, ok := doc["nicknames"].(map[string]any)
	if !ok {
		return out
	}
	for guildID, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		b := Branding{}
		b.Nickname, _ = m["nickname"].(string)
		b.ServerName, _ = m["server name"].(string)
		if allowed, ok := m["allowed"].(bool); ok {
			b.Allowed = &allowed
		}
		out[guildID] = b
	}
	return out
}

func encodeNicknames(in map[string]Branding) map[string]any {
	out := make(map[string]any, len(in))
	for guildID, b := range in {
		m := map[string]any{
			"nickname":    b.Nickname,
			"server name": b.ServerName,
		}
		if b.Allowed != nil {
			m["allowed"] = *b.Allowed
		} else {
			m["allowed"] = nil
		}
		out[guildID] = m
	}
	return out
}
