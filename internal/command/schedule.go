package command

import (
	"context"
	"errors"
	"strings"
	"time"

	"chartbot/internal/confirm"
	"chartbot/internal/jobs"
	"chartbot/internal/membership"
	"chartbot/internal/schedule"
	"chartbot/internal/store"
	"chartbot/internal/transport"
	logx "chartbot/pkg/logx"
)

// StartLayout is the wire format for explicit start times.
const StartLayout = "02/01/2006 15:04 UTC"

// RenderRequest is one dry-run of the chart pipeline.
type RenderRequest struct {
	Kind      Kind
	Ticker    string
	Arguments []string
	Platforms []string
}

// Preview is the rendered result shown above the Confirm/Cancel controls.
type Preview struct {
	Caption  string
	ImageURL string
}

// Runner renders a request once. The chart pipeline itself lives elsewhere;
// scheduling only needs a dry-run to prove the request is servable before
// persisting it.
type Runner interface {
	Render(ctx context.Context, req RenderRequest) (Preview, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req RenderRequest) (Preview, error)

func (f RunnerFunc) Render(ctx context.Context, req RenderRequest) (Preview, error) {
	return f(ctx, req)
}

// CreateRequest carries everything the transport layer resolved about the
// invocation: identities, the raw arguments, and the author's permission bit.
type CreateRequest struct {
	GuildID   string
	ChannelID string
	AuthorID  string

	// Arguments is the raw request string, ticker first.
	Arguments string
	// AssetClass selects the platform fallback order; empty means crypto.
	AssetClass string
	// Period is a catalog label, e.g. "1 hour".
	Period string
	// Start is in StartLayout; empty means now.
	Start string

	// ManageMessages is the author's permission in the invoking channel.
	ManageMessages bool
	// BotNick is the bot's current display name in the guild, for the
	// branding gate.
	BotNick string
}

// Listing is one persisted job with its computed next fire.
type Listing struct {
	Job         jobs.Job
	PeriodLabel string
	Next        time.Time
}

// Schedule is the scheduled-posting command service.
type Schedule struct {
	jobs     *jobs.Store
	docs     store.Store
	members  *membership.Service
	runner   Runner
	prompter transport.Prompter
	registry *confirm.Registry
	log      logx.Logger

	now func() time.Time
}

func NewSchedule(jobStore *jobs.Store, docs store.Store, members *membership.Service, runner Runner, prompter transport.Prompter, registry *confirm.Registry, log logx.Logger) *Schedule {
	return &Schedule{
		jobs:     jobStore,
		docs:     docs,
		members:  members,
		runner:   runner,
		prompter: prompter,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

// Create validates a request end to end, renders a preview, holds it behind
// the confirmation gate, and persists the job only on an explicit Confirm.
func (s *Schedule) Create(ctx context.Context, req CreateRequest) (jobs.Job, error) {
	if s.members.BrandingViolated(req.GuildID, req.BotNick) {
		return jobs.Job{}, ErrBranding
	}
	if !req.ManageMessages {
		return jobs.Job{}, ErrPermission
	}
	entitled, err := s.entitled(ctx, req.GuildID)
	if err != nil {
		return jobs.Job{}, err
	}
	if !entitled {
		return jobs.Job{}, ErrEntitlement
	}

	if strings.Contains(req.Arguments, ",") {
		return jobs.Job{}, ErrTooManyRequests
	}
	args := strings.Fields(strings.ToLower(req.Arguments))
	if len(args) == 0 {
		return jobs.Job{}, ErrTooManyRequests
	}

	periodMinutes, ok := schedule.Minutes(strings.ToLower(req.Period))
	if !ok {
		return jobs.Job{}, ErrInvalidPeriod
	}

	now := s.now()
	start := now
	if req.Start != "" {
		parsed, err := time.Parse(StartLayout, req.Start)
		if err != nil {
			return jobs.Job{}, ErrInvalidStart
		}
		start = parsed
	}
	start = schedule.NextDue(start, periodMinutes, now)

	assetClass := req.AssetClass
	if assetClass == "" {
		assetClass = "crypto"
	}
	preview, err := s.runner.Render(ctx, RenderRequest{
		Kind:      KindChart,
		Ticker:    strings.ToUpper(args[0]),
		Arguments: args[1:],
		Platforms: KindChart.Platforms(assetClass),
	})
	if err != nil {
		return jobs.Job{}, err
	}

	control := confirm.New(req.AuthorID)
	s.registry.Add(control)
	defer s.registry.Remove(control.ID())

	ref, err := s.prompter.Prompt(ctx, req.ChannelID, previewMessage(preview), control.ID())
	if err != nil {
		return jobs.Job{}, err
	}

	state, err := control.Wait(ctx)
	if err != nil {
		return jobs.Job{}, err
	}
	if state != confirm.Confirmed {
		if err := s.prompter.Delete(ctx, ref); err != nil {
			s.log.Warn("discard preview failed", logx.Err(err))
		}
		return jobs.Job{}, ErrCancelled
	}

	job, err := s.jobs.Create(ctx, jobs.Job{
		GuildID:       req.GuildID,
		Command:       KindChart.String(),
		Arguments:     args,
		AuthorID:      req.AuthorID,
		ChannelID:     req.ChannelID,
		PeriodMinutes: periodMinutes,
		Start:         start.Unix(),
	})
	if err != nil {
		return jobs.Job{}, err
	}

	if err := s.prompter.ClearControls(ctx, ref); err != nil {
		s.log.Warn("clear confirm controls failed", logx.Err(err))
	}
	s.log.Info("scheduled post created",
		logx.String("guild", req.GuildID),
		logx.String("job", job.ID),
		logx.Int("period_minutes", periodMinutes))
	return job, nil
}

// List returns the guild's jobs with their computed next fire time.
func (s *Schedule) List(ctx context.Context, guildID string) ([]Listing, error) {
	all, err := s.jobs.List(ctx, guildID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Listing, 0, len(all))
	for _, j := range all {
		label, _ := schedule.Label(j.PeriodMinutes)
		out = append(out, Listing{Job: j, PeriodLabel: label, Next: j.NextRun(now)})
	}
	return out, nil
}

// Delete removes a job on behalf of its author.
func (s *Schedule) Delete(ctx context.Context, guildID, jobID, callerID string) error {
	return s.jobs.Delete(ctx, guildID, jobID, callerID)
}

// entitled reports whether the guild's scheduled-posting add-on is enabled.
func (s *Schedule) entitled(ctx context.Context, guildID string) (bool, error) {
	path := store.JoinPath(membership.GuildPropertiesCollection, guildID)
	doc, err := s.docs.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	addons, _ := doc["addons"].(map[string]any)
	scheduled, _ := addons["scheduled"].(map[string]any)
	enabled, _ := scheduled["enabled"].(bool)
	return enabled, nil
}
