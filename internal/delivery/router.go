package delivery

import (
	"context"
	"errors"

	"chartbot/internal/store"
	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

// ErrUndeliverable reports that neither the primary nor the backup
// destination accepted the notification.
var ErrUndeliverable = errors.New("delivery: no destination accepted the notification")

// Router resolves a notification's destinations and attempts delivery:
// primary first, then backup with a context annotation. The stored record is
// deleted if and only if a send returned success; on total failure it stays
// put and retry is the producer's responsibility (re-touching the record
// re-triggers the change feed). The router never schedules its own retry.
type Router struct {
	tp   Transport
	docs store.Store
	log  logx.Logger
}

func NewRouter(tp Transport, docs store.Store, log logx.Logger) *Router {
	return &Router{tp: tp, docs: docs, log: log}
}

// Deliver runs the full primary/backup algorithm for one stored notification.
func (r *Router) Deliver(ctx context.Context, path string, n Notification) error {
	embed := buildEmbed(n)

	// Resolve both destinations up front. Backup is resolved eagerly because
	// primary failure is not knowable before attempting the send.
	var primaryOK, backupOK bool
	var err error
	if n.UserPrimary() {
		if primaryOK, err = r.tp.ResolveUser(ctx, n.UserID); err != nil {
			r.log.Warn("primary user resolution failed", logx.String("id", n.ID), logx.Err(err))
		}
		if backupOK, err = r.tp.ResolveChannel(ctx, n.BackupChannelID); err != nil {
			r.log.Warn("backup channel resolution failed", logx.String("id", n.ID), logx.Err(err))
		}
	} else {
		if primaryOK, err = r.tp.ResolveChannel(ctx, n.ChannelID); err != nil {
			r.log.Warn("primary channel resolution failed", logx.String("id", n.ID), logx.Err(err))
		}
		if backupOK, err = r.tp.ResolveUser(ctx, n.BackupUserID); err != nil {
			r.log.Warn("backup user resolution failed", logx.String("id", n.ID), logx.Err(err))
		}
	}

	var primaryErr error
	if primaryOK {
		if n.UserPrimary() {
			_, primaryErr = r.tp.SendUser(ctx, n.UserID, transport.Message{Embed: embed})
		} else {
			_, primaryErr = r.tp.SendChannel(ctx, n.ChannelID, transport.Message{
				Content: roleMention(n.Tag),
				Embed:   embed,
			})
		}
		if primaryErr == nil {
			return r.settle(ctx, path, n)
		}
	}

	var backupErr error
	if backupOK {
		if n.UserPrimary() {
			// Channel fallback after a DM failure. Mention the intended
			// recipient only when they never resolved; a resolved-but-failed
			// DM already reached an existing account.
			content := ""
			if !primaryOK {
				content = userMention(n.UserID) + ", you weren't reachable via DMs!"
			}
			_, backupErr = r.tp.SendChannel(ctx, n.BackupChannelID, transport.Message{
				Content: content,
				Embed:   embed,
			})
		} else {
			reason := "destination unavailable"
			if primaryErr != nil {
				reason = primaryErr.Error()
			}
			_, backupErr = r.tp.SendUser(ctx, n.BackupUserID, transport.Message{
				Content: "The alert could not be sent into the channel that was initially requested. Reason: `" + reason + "`",
				Embed:   embed,
			})
		}
		if backupErr == nil {
			return r.settle(ctx, path, n)
		}
	}

	// Both paths exhausted. The record stays in the store untouched.
	r.log.Error("notification undeliverable",
		logx.String("id", n.ID),
		logx.Bool("primary_resolved", primaryOK),
		logx.Bool("backup_resolved", backupOK),
		logx.Err(firstErr(primaryErr, backupErr)))
	return ErrUndeliverable
}

// settle deletes the stored record after a confirmed successful send.
func (r *Router) settle(ctx context.Context, path string, n Notification) error {
	if err := r.docs.Delete(ctx, path); err != nil {
		// The send landed; a lingering record means an eventual duplicate,
		// never a silent loss.
		r.log.Warn("delivered notification could not be deleted", logx.String("id", n.ID), logx.Err(err))
		return err
	}
	r.log.Debug("notification delivered", logx.String("id", n.ID))
	return nil
}

func buildEmbed(n Notification) *transport.Embed {
	return &transport.Embed{
		Title:       n.Title,
		Description: n.Description,
		URL:         n.URL,
		Color:       n.Color,
		Subtitle:    n.Subtitle,
		Icon:        n.Icon,
		Image:       n.Image,
	}
}

func roleMention(roleID string) string {
	if roleID == "" {
		return ""
	}
	return "<@&" + roleID + ">"
}

func userMention(userID string) string {
	return "<@!" + userID + ">"
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
