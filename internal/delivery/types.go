package delivery

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"chartbot/internal/readiness"
	"chartbot/internal/store"
	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

// Collection is where producers queue notifications awaiting delivery.
const Collection = "discord/properties/messages"

// Notification is one message awaiting delivery, written by an external
// producer. Exactly one of UserID/ChannelID is the primary destination; the
// matching Backup* field is the fallback.
type Notification struct {
	ID          string
	Title       string
	Color       int
	Description string
	Subtitle    string
	Icon        string
	Image       string
	URL         string
	// Tag is a role id mentioned in channel sends.
	Tag string

	UserID          string
	BackupChannelID string
	ChannelID       string
	BackupUserID    string
}

// UserPrimary reports whether the primary destination is a DM.
func (n Notification) UserPrimary() bool { return n.UserID != "" }

// Decode maps a stored document onto a Notification.
func Decode(id string, doc store.Document) Notification {
	n := Notification{ID: id}
	n.Title, _ = doc["title"].(string)
	n.Description, _ = doc["description"].(string)
	n.Subtitle, _ = doc["subtitle"].(string)
	n.Icon, _ = doc["icon"].(string)
	n.Image, _ = doc["image"].(string)
	n.URL, _ = doc["url"].(string)
	n.Tag = asID(doc["tag"])
	n.UserID = asID(doc["user"])
	n.BackupChannelID = asID(doc["backupChannel"])
	n.ChannelID = asID(doc["channel"])
	n.BackupUserID = asID(doc["backupUser"])
	if c, ok := doc["color"].(float64); ok {
		n.Color = int(c)
	}
	return n
}

// asID tolerates producers writing ids as numbers or strings.
func asID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		// Snowflakes exceed float64 precision, but producers that write
		// numbers write them small enough to survive; keep best effort.
		return strconv.FormatInt(int64(x), 10)
	default:
		return ""
	}
}

// Transport is the slice of the session the delivery path needs.
type Transport interface {
	transport.Messenger
	transport.Resolver
}

// Config controls the delivery service. The readiness wait interval lives on
// the gate itself.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	return c
}

type task struct {
	path string
	n    Notification
}

// Service consumes the notification change feed and hands each record to the
// Router through a bounded queue and a small worker pool.
type Service struct {
	mu sync.Mutex

	cfg    Config
	router *Router
	docs   store.Store
	gate   *readiness.Gate
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan task

	runCtx    context.Context
	runCancel context.CancelFunc
	unsub     func()
	workerWG  sync.WaitGroup
}
