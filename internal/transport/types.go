package transport

import "context"

// Embed is the transport-neutral rich message body. Field names mirror what
// the notification producers write into the store.
type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	Subtitle    string // rendered as the author line
	Icon        string // author icon URL
	Image       string
}

// Message is one outbound send: optional plain content plus an optional embed.
type Message struct {
	Content string
	Embed   *Embed
}

// MessageRef identifies a sent message for later edit/delete.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Messenger sends to a DM-capable identity or to a channel. The two sides
// fail independently; callers own any fallback policy.
type Messenger interface {
	SendUser(ctx context.Context, userID string, msg Message) (MessageRef, error)
	SendChannel(ctx context.Context, channelID string, msg Message) (MessageRef, error)
}

// Resolver reports whether a destination exists, checking a local cache
// before a remote fetch. A false result with nil error means the id simply
// does not resolve; errors are transport hiccups.
type Resolver interface {
	ResolveUser(ctx context.Context, userID string) (bool, error)
	ResolveChannel(ctx context.Context, channelID string) (bool, error)
}

// GuildInfo is the live-session view of one owner group.
type GuildInfo struct {
	ID          string
	Name        string
	MemberCount int
	// BotNick is the display name this guild gave the bot, "" when unset.
	BotNick string
}

// Roster exposes live session membership for reconciliation.
type Roster interface {
	Guilds() []GuildInfo
}

// Prompter presents a two-choice Confirm/Cancel control beneath a message
// and supports the long-lived edit/delete the confirmation flow needs.
// Component events carry controlID back to the confirm registry.
type Prompter interface {
	Prompt(ctx context.Context, channelID string, msg Message, controlID string) (MessageRef, error)
	ClearControls(ctx context.Context, ref MessageRef) error
	Delete(ctx context.Context, ref MessageRef) error
}

// Hooks are callbacks the session invokes on lifecycle events. All fields
// are optional.
type Hooks struct {
	OnSessionUp   func()
	OnSessionDown func()
	OnGuildJoin   func(GuildInfo)
	OnGuildLeave  func(GuildInfo)
	// OnDecision receives Confirm/Cancel component input:
	// the control id and the identity that pressed the button.
	OnDecision func(controlID, userID string, confirmed bool)
}

// Session is the full transport surface the rest of the process consumes.
type Session interface {
	Messenger
	Resolver
	Roster
	Prompter

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// LeaveGuild removes the bot from an owner group (banned-guild policy).
	LeaveGuild(ctx context.Context, guildID string) error
}
