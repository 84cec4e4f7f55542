// Package app wires the process together: config, logging, the document
// store, the Discord session, the delivery pipeline, the scheduled-posting
// command surface, and the maintenance loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"chartbot/internal/command"
	"chartbot/internal/config"
	"chartbot/internal/confirm"
	"chartbot/internal/delivery"
	"chartbot/internal/jobs"
	"chartbot/internal/jobsched"
	"chartbot/internal/membership"
	"chartbot/internal/readiness"
	"chartbot/internal/reconcile"
	"chartbot/internal/store"
	"chartbot/internal/transport"
	"chartbot/internal/transport/discord"
	logx "chartbot/pkg/logx"
)

// StopReason labels why the process is shutting down, for the final log line.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal-error"
	StopAppStop    StopReason = "app-stop"
)

const (
	defaultSanityInterval   = 15 * time.Minute
	defaultBrandingInterval = time.Hour
	defaultCensusInterval   = time.Hour
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	docs     store.Store
	session  *discord.Adapter
	gate     *readiness.Gate
	registry *confirm.Registry
	members  *membership.Service
	jobs     *jobs.Store
	schedule *command.Schedule
	deliver  *delivery.Service
	recon    *reconcile.Service
	loops    *jobsched.Service

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New builds the full dependency graph; nothing is started yet. The chart
// render pipeline is injected because it lives outside this process.
func New(cfgPath string, runner command.Runner) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logCfg := mapLogConfig(cfg)
	logs, log := logx.New(logCfg)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	token := strings.TrimSpace(cfg.Discord.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	}
	if token == "" {
		logs.Close()
		return nil, errors.New("discord token missing: set discord.token or DISCORD_TOKEN")
	}

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	docs, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		docs:     docs,
		gate:     readiness.NewGate(log.With(logx.String("comp", "readiness"))),
		registry: confirm.NewRegistry(),
	}

	a.members = membership.New(docs, log.With(logx.String("comp", "membership")))
	a.members.OnFirstSnapshot(a.gate.SetCachesPrimed)

	hooks := transport.Hooks{
		OnSessionUp:   a.gate.SetSessionUp,
		OnSessionDown: a.gate.SetSessionDown,
		OnGuildJoin:   a.onGuildJoin,
		OnGuildLeave: func(g transport.GuildInfo) {
			a.log.Info("left guild", logx.String("guild", g.ID))
			a.members.DropBranding(g.ID)
		},
		OnDecision: func(controlID, userID string, confirmed bool) {
			a.registry.Decide(controlID, userID, confirmed)
		},
	}
	session, err := discord.New(discord.Config{Token: token}, hooks, log.With(logx.String("comp", "discord")))
	if err != nil {
		_ = docs.Close()
		logs.Close()
		return nil, err
	}
	a.session = session

	if cfg.Logging.Report.Enabled {
		channelID := strings.TrimSpace(cfg.Logging.Report.ChannelID)
		logs.SetReporter(func(_ logx.Level, line string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = session.SendChannel(ctx, channelID, transport.Message{Content: line})
		})
	}

	router := delivery.NewRouter(session, docs, log.With(logx.String("comp", "delivery")))
	a.deliver = delivery.New(delivery.Config{
		Workers:    cfg.Delivery.Workers,
		QueueSize:  cfg.Delivery.QueueSize,
		RatePerSec: cfg.Delivery.RatePerSec,
	}, router, docs, a.gate, log.With(logx.String("comp", "delivery")))

	a.recon = reconcile.New(reconcile.Config{
		MinMembers:   cfg.Reconcile.MinMembers,
		CensusFloor:  cfg.Reconcile.CensusFloor,
		BannedGuilds: cfg.Reconcile.BannedGuilds,
	}, session, session, docs, a.members, log.With(logx.String("comp", "reconcile")))

	a.jobs = jobs.NewStore(docs, log.With(logx.String("comp", "jobs")))
	a.schedule = command.NewSchedule(a.jobs, docs, a.members, runner, session, a.registry,
		log.With(logx.String("comp", "command")))

	a.loops = jobsched.New(jobsched.Config{}, a.gate, log.With(logx.String("comp", "loops")))
	if err := a.registerLoops(cfg); err != nil {
		_ = docs.Close()
		logs.Close()
		return nil, err
	}

	return a, nil
}

// Schedule exposes the scheduled-posting command surface.
func (a *App) Schedule() *command.Schedule { return a.schedule }

// Loops exposes loop introspection. The shutdown log line and status
// surfaces read from it.
func (a *App) Loops() []jobsched.LoopStatus { return a.loops.Snapshot() }

func (a *App) registerLoops(cfg *config.Config) error {
	sanity, err := config.ParseDurationOrDefault("reconcile.sanity_interval",
		cfg.Reconcile.SanityInterval, defaultSanityInterval)
	if err != nil {
		return err
	}
	branding, err := config.ParseDurationOrDefault("reconcile.branding_interval",
		cfg.Reconcile.BrandingInterval, defaultBrandingInterval)
	if err != nil {
		return err
	}
	census, err := config.ParseDurationOrDefault("reconcile.census_interval",
		cfg.Reconcile.CensusInterval, defaultCensusInterval)
	if err != nil {
		return err
	}

	if err := a.loops.Add("sanity", sanity, a.recon.Sanity); err != nil {
		return err
	}
	if err := a.loops.Add("branding", branding, a.recon.Branding); err != nil {
		return err
	}
	return a.loops.Add("census", census, a.recon.Census)
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	if err := a.members.Start(a.runCtx); err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	if err := a.session.Start(a.runCtx); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	if err := a.deliver.Start(a.runCtx); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	if err := a.loops.Start(a.runCtx); err != nil {
		return fmt.Errorf("loops: %w", err)
	}

	// Prime every loop once the gate opens instead of waiting out the first
	// interval; a fresh install gets its sanity pass right away.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.gate.Wait(a.runCtx); err != nil {
			return
		}
		for _, name := range []string{"sanity", "branding", "census"} {
			a.loops.RunNow(name)
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(a.runCtx, sub)
	}()
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(a.runCtx)
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.runCancel != nil {
		a.runCancel()
	}

	// Bound each shutdown step so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("loops", 2*time.Second, func(context.Context) error {
		a.loops.Stop()
		for _, l := range a.Loops() {
			a.log.Info("loop final counters", logx.String("loop", l.Name),
				logx.Uint64("runs", l.Runs), logx.Uint64("failures", l.Failures))
		}
		return nil
	})
	step("delivery", 2*time.Second, func(context.Context) error { a.deliver.Stop(); return nil })
	step("membership", time.Second, func(context.Context) error { a.members.Stop(); return nil })
	step("discord", 2*time.Second, func(c context.Context) error { return a.session.Stop(c) })
	step("store", time.Second, func(context.Context) error { return a.docs.Close() })
	step("watchers", 2*time.Second, func(c context.Context) error {
		done := make(chan struct{})
		go func() { a.wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// onGuildJoin refuses banned guilds and makes sure the guild has a
// properties record before any command runs in it.
func (a *App) onGuildJoin(g transport.GuildInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.recon.Banned(g.ID) {
		a.log.Warn("refusing banned guild", logx.String("guild", g.ID))
		if err := a.session.LeaveGuild(ctx, g.ID); err != nil {
			a.log.Error("leave banned guild failed", logx.String("guild", g.ID), logx.Err(err))
		}
		return
	}

	path := store.JoinPath(membership.GuildPropertiesCollection, g.ID)
	_, err := a.docs.Get(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		if err := a.docs.Set(ctx, path, membership.DefaultGuildSettings()); err != nil {
			a.log.Error("create guild settings failed", logx.String("guild", g.ID), logx.Err(err))
			return
		}
		a.log.Info("joined guild", logx.String("guild", g.ID),
			logx.String("name", g.Name), logx.Int("members", g.MemberCount))
		return
	}
	if err != nil {
		a.log.Error("guild settings lookup failed", logx.String("guild", g.ID), logx.Err(err))
	}
}

// reloadLoop applies hot config edits. Logging changes apply live; sections
// that require a process restart are called out instead of half-applied.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			a.logs.Apply(mapLogConfig(newCfg))
			for _, s := range sections {
				switch s {
				case "discord", "storage", "delivery":
					a.log.Warn("config section changed; restart required to take effect",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Report: logx.ReportConfig{
			Enabled:    cfg.Logging.Report.Enabled,
			MinLevel:   cfg.Logging.Report.MinLevel,
			RatePerSec: cfg.Logging.Report.RatePerSec,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	poll, err := config.ParseDurationField("storage.poll_interval", cfg.Storage.PollInterval)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:       strings.TrimSpace(cfg.Storage.Driver),
		Path:         strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout:  busy,
		PollInterval: poll,
	}, nil
}
