package store

import (
	"context"
	"errors"
	"strings"

	logx "chartbot/pkg/logx"
)

// Store is the document persistence API used by services.
//
// Paths are hierarchical ("details/scheduledPosts/<guild>/<id>"); a collection
// is any path prefix one level above its documents. Set is last-writer-wins;
// Merge performs a recursive field-level union (see Merge on Document values
// and the Increment sentinel); Delete is idempotent.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, doc Document) error
	Merge(ctx context.Context, path string, doc Document) error
	Delete(ctx context.Context, path string) error

	// List returns all documents directly under collection, keyed by id.
	List(ctx context.Context, collection string) (map[string]Document, error)

	// Watch subscribes to changes on a collection. The feed delivers
	// Added/Modified/Removed events until unsubscribe is called or the store
	// closes. Slow consumers may drop events; consumers needing a complete
	// view should List() and treat the feed as a hint.
	Watch(collection string) (events <-chan Event, unsubscribe func(), err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
