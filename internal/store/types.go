package store

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("store: document not found")
	ErrClosed   = errors.New("store: closed")
)

// Config configures the document store.
//
// Driver values:
//   - "memory": in-process map backend (tests, development)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// PollInterval controls how often the sqlite driver scans for changes
	// feeding Watch subscriptions. 0 means 1s.
	PollInterval time.Duration
}

// Document is one stored record. Values survive a JSON round trip, so nested
// documents come back as map[string]any and numbers as float64.
type Document map[string]any

// Increment is a merge-only sentinel: merging {"count": Increment(1)} adds to
// the stored numeric value instead of overwriting it.
type Increment int64

// EventType classifies a change-feed event.
type EventType int

const (
	Added EventType = iota
	Modified
	Removed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one change observed on a watched collection.
type Event struct {
	Type EventType
	// Path is the full document path; ID its last segment.
	Path string
	ID   string
	// Doc is the document body after the change. Nil for Removed.
	Doc Document
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case Document:
		return map[string]any(x.Clone())
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// SplitPath separates a document path into its collection and document id.
// "details/scheduledPosts/123/abc" -> ("details/scheduledPosts/123", "abc").
func SplitPath(path string) (collection, id string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// JoinPath builds a document path from a collection and id.
func JoinPath(collection, id string) string {
	return strings.Trim(collection, "/") + "/" + id
}
