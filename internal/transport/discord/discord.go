// Package discord adapts the transport contract onto a Discord gateway
// session via discordgo. Destination resolution is local-cache-then-remote:
// session state and a TTL cache absorb the common case, the REST API covers
// the rest.
package discord

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	gocache "github.com/patrickmn/go-cache"

	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

const (
	confirmScope  = "confirm"
	actionConfirm = "yes"
	actionCancel  = "no"

	resolveTTL = 15 * time.Minute
)

type Config struct {
	Token string
}

type Adapter struct {
	s     *discordgo.Session
	log   logx.Logger
	hooks transport.Hooks

	// users/channels cache resolved ids so repeat deliveries skip the REST
	// round trip. Only positive results are cached.
	users    *gocache.Cache
	channels *gocache.Cache
}

func New(cfg Config, hooks transport.Hooks, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages

	a := &Adapter{
		s:        s,
		log:      log,
		hooks:    hooks,
		users:    gocache.New(resolveTTL, 5*time.Minute),
		channels: gocache.New(resolveTTL, 5*time.Minute),
	}

	s.AddHandler(a.onReady)
	s.AddHandler(a.onDisconnect)
	s.AddHandler(a.onGuildCreate)
	s.AddHandler(a.onGuildDelete)
	s.AddHandler(a.onInteraction)
	return a, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	if err := a.s.Open(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = a.s.Close()
	}()
	return nil
}

func (a *Adapter) Stop(context.Context) error { return a.s.Close() }

// ---- lifecycle handlers ----

func (a *Adapter) onReady(_ *discordgo.Session, _ *discordgo.Ready) {
	a.log.Info("discord session ready")
	if a.hooks.OnSessionUp != nil {
		a.hooks.OnSessionUp()
	}
}

func (a *Adapter) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	a.log.Warn("discord session disconnected")
	if a.hooks.OnSessionDown != nil {
		a.hooks.OnSessionDown()
	}
}

func (a *Adapter) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if a.hooks.OnGuildJoin != nil {
		a.hooks.OnGuildJoin(guildInfo(a.s, g.Guild))
	}
}

func (a *Adapter) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if a.hooks.OnGuildLeave != nil && g.Guild != nil {
		a.hooks.OnGuildLeave(transport.GuildInfo{ID: g.ID})
	}
}

func (a *Adapter) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	scope, action, payload := ParseData(i.MessageComponentData().CustomID)
	if scope != confirmScope {
		return
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}

	// Always acknowledge so the client stops its spinner; the decision hook
	// decides whether anything actually happens.
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})

	if a.hooks.OnDecision != nil {
		a.hooks.OnDecision(payload, userID, action == actionConfirm)
	}
}

// ---- Messenger ----

func (a *Adapter) SendUser(ctx context.Context, userID string, msg transport.Message) (transport.MessageRef, error) {
	ch, err := a.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return a.SendChannel(ctx, ch.ID, msg)
}

func (a *Adapter) SendChannel(ctx context.Context, channelID string, msg transport.Message) (transport.MessageRef, error) {
	m, err := a.s.ChannelMessageSendComplex(channelID, buildSend(msg, nil), discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChannelID: channelID, MessageID: m.ID}, nil
}

// ---- Resolver ----

func (a *Adapter) ResolveUser(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if _, ok := a.users.Get(userID); ok {
		return true, nil
	}
	if _, err := a.s.User(userID, discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	a.users.Set(userID, struct{}{}, gocache.DefaultExpiration)
	return true, nil
}

func (a *Adapter) ResolveChannel(ctx context.Context, channelID string) (bool, error) {
	if channelID == "" {
		return false, nil
	}
	if _, ok := a.channels.Get(channelID); ok {
		return true, nil
	}
	if _, err := a.s.State.Channel(channelID); err == nil {
		a.channels.Set(channelID, struct{}{}, gocache.DefaultExpiration)
		return true, nil
	}
	if _, err := a.s.Channel(channelID, discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	a.channels.Set(channelID, struct{}{}, gocache.DefaultExpiration)
	return true, nil
}

// ---- Roster ----

func (a *Adapter) Guilds() []transport.GuildInfo {
	a.s.State.RLock()
	guilds := make([]*discordgo.Guild, len(a.s.State.Guilds))
	copy(guilds, a.s.State.Guilds)
	a.s.State.RUnlock()

	out := make([]transport.GuildInfo, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, guildInfo(a.s, g))
	}
	return out
}

func (a *Adapter) LeaveGuild(ctx context.Context, guildID string) error {
	return a.s.GuildLeave(guildID, discordgo.WithContext(ctx))
}

// ---- Prompter ----

func (a *Adapter) Prompt(ctx context.Context, channelID string, msg transport.Message, controlID string) (transport.MessageRef, error) {
	rows := []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Confirm",
				Style:    discordgo.PrimaryButton,
				CustomID: Data(confirmScope, actionConfirm, controlID),
			},
			discordgo.Button{
				Label:    "Cancel",
				Style:    discordgo.SecondaryButton,
				CustomID: Data(confirmScope, actionCancel, controlID),
			},
		}},
	}
	m, err := a.s.ChannelMessageSendComplex(channelID, buildSend(msg, rows), discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChannelID: channelID, MessageID: m.ID}, nil
}

func (a *Adapter) ClearControls(ctx context.Context, ref transport.MessageRef) error {
	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID)
	empty := []discordgo.MessageComponent{}
	edit.Components = &empty
	_, err := a.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) Delete(ctx context.Context, ref transport.MessageRef) error {
	return a.s.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
}

// ---- helpers ----

func buildSend(msg transport.Message, components []discordgo.MessageComponent) *discordgo.MessageSend {
	out := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: components,
	}
	if e := buildEmbed(msg.Embed); e != nil {
		out.Embeds = []*discordgo.MessageEmbed{e}
	}
	return out
}

func buildEmbed(e *transport.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Subtitle != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.Subtitle, IconURL: e.Icon}
	}
	if e.Image != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.Image}
	}
	return out
}

func guildInfo(s *discordgo.Session, g *discordgo.Guild) transport.GuildInfo {
	info := transport.GuildInfo{
		ID:          g.ID,
		Name:        g.Name,
		MemberCount: g.MemberCount,
	}
	if s.State != nil && s.State.User != nil {
		if m, err := s.State.Member(g.ID, s.State.User.ID); err == nil {
			info.BotNick = m.Nick
		}
	}
	return info
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return rerr.Response.StatusCode == 404
	}
	return false
}
