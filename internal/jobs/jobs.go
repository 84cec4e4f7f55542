// Package jobs persists per-guild recurring posts.
//
// Jobs live under "details/scheduledPosts/<guildID>" in the document store,
// capped at MaxPerGuild live jobs per guild. Records are immutable once
// created; an update is a delete followed by a new create.
package jobs

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"chartbot/internal/schedule"
	"chartbot/internal/store"
	logx "chartbot/pkg/logx"
)

// MaxPerGuild caps live jobs per owner group.
const MaxPerGuild = 10

var (
	ErrCapacity      = errors.New("jobs: guild already holds the maximum number of scheduled posts")
	ErrInvalidPeriod = errors.New("jobs: period is not in the catalog")
	ErrNotAuthorized = errors.New("jobs: only the author may delete a scheduled post")
)

// Job is one recurring scheduled post.
type Job struct {
	ID            string
	GuildID       string
	Command       string
	Arguments     []string
	AuthorID      string
	ChannelID     string
	PeriodMinutes int
	// Start is the originally requested first fire time, epoch seconds.
	Start int64
}

// NextRun computes the next fire time at or after now. Missed periods are
// skipped, never replayed.
func (j Job) NextRun(now time.Time) time.Time {
	return time.Unix(schedule.NextDueUnix(j.Start, j.PeriodMinutes, now.Unix()), 0).UTC()
}

// Store is persistence-backed CRUD over per-guild job collections.
// It holds no cache; every call goes to the document store.
type Store struct {
	docs store.Store
	log  logx.Logger
}

func NewStore(docs store.Store, log logx.Logger) *Store {
	return &Store{docs: docs, log: log}
}

func collection(guildID string) string {
	return "details/scheduledPosts/" + guildID
}

// Create persists a new job and returns it with its generated id.
func (s *Store) Create(ctx context.Context, job Job) (Job, error) {
	if _, ok := schedule.Label(job.PeriodMinutes); !ok {
		return Job{}, ErrInvalidPeriod
	}

	existing, err := s.docs.List(ctx, collection(job.GuildID))
	if err != nil {
		return Job{}, err
	}
	if len(existing) >= MaxPerGuild {
		return Job{}, ErrCapacity
	}

	job.ID = uuid.NewString()
	path := store.JoinPath(collection(job.GuildID), job.ID)
	if err := s.docs.Set(ctx, path, encode(job)); err != nil {
		return Job{}, err
	}
	s.log.Info("scheduled post created",
		logx.String("guild", job.GuildID),
		logx.String("job", job.ID),
		logx.Int("period_min", job.PeriodMinutes))
	return job, nil
}

// List returns all live jobs for a guild, oldest start first.
func (s *Store) List(ctx context.Context, guildID string) ([]Job, error) {
	docs, err := s.docs.List(ctx, collection(guildID))
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(docs))
	for id, doc := range docs {
		out = append(out, decode(guildID, id, doc))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Start != out[k].Start {
			return out[i].Start < out[k].Start
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

// Count returns the number of live jobs for a guild.
func (s *Store) Count(ctx context.Context, guildID string) (int, error) {
	docs, err := s.docs.List(ctx, collection(guildID))
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Delete removes a job. It is idempotent: deleting a missing job succeeds.
// The authorization check lives here because deletion is reachable from an
// interactive control with no other guard.
func (s *Store) Delete(ctx context.Context, guildID, jobID, callerID string) error {
	path := store.JoinPath(collection(guildID), jobID)
	doc, err := s.docs.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if author, _ := doc["authorId"].(string); author != callerID {
		return ErrNotAuthorized
	}
	if err := s.docs.Delete(ctx, path); err != nil {
		return err
	}
	s.log.Info("scheduled post deleted",
		logx.String("guild", guildID),
		logx.String("job", jobID))
	return nil
}

func encode(j Job) store.Document {
	args := make([]any, len(j.Arguments))
	for i, a := range j.Arguments {
		args[i] = a
	}
	return store.Document{
		"command":   j.Command,
		"arguments": args,
		"authorId":  j.AuthorID,
		"channelId": j.ChannelID,
		"period":    j.PeriodMinutes,
		"start":     j.Start,
	}
}

func decode(guildID, id string, doc store.Document) Job {
	j := Job{ID: id, GuildID: guildID}
	j.Command, _ = doc["command"].(string)
	j.AuthorID, _ = doc["authorId"].(string)
	j.ChannelID, _ = doc["channelId"].(string)
	j.PeriodMinutes = int(asInt64(doc["period"]))
	j.Start = asInt64(doc["start"])
	if raw, ok := doc["arguments"].([]any); ok {
		j.Arguments = make([]string, 0, len(raw))
		for _, a := range raw {
			if s, ok := a.(string); ok {
				j.Arguments = append(j.Arguments, s)
			}
		}
	}
	return j
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}
