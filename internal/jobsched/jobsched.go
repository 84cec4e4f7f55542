// Package jobsched runs the named maintenance loops (reconciliation passes,
// guild census) on fixed intervals. Loops never overlap themselves: a tick
// that arrives while the previous run is still going is skipped, not queued.
package jobsched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "chartbot/pkg/logx"
)

// Gate blocks loops until the process is ready. *readiness.Gate satisfies it.
type Gate interface {
	Ready() bool
}

type Config struct {
	// Timeout bounds each loop run. Zero means the default of one minute.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return c
}

// LoopStatus is one loop's introspection snapshot.
type LoopStatus struct {
	Name      string
	Every     time.Duration
	Running   bool
	Runs      uint64
	Failures  uint64
	LastStart time.Time
	LastError string
}

type loop struct {
	name    string
	every   time.Duration
	timeout time.Duration
	fn      func(ctx context.Context) error

	running atomic.Bool

	mu        sync.Mutex
	runs      uint64
	failures  uint64
	lastStart time.Time
	lastErr   string
}

type Service struct {
	mu sync.Mutex

	cfg  Config
	gate Gate
	log  logx.Logger

	c     *cron.Cron
	loops []*loop

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, gate Gate, log logx.Logger) *Service {
	return &Service{cfg: cfg.withDefaults(), gate: gate, log: log}
}

// Add registers a named loop. Must be called before Start.
func (s *Service) Add(name string, every time.Duration, fn func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("loop %q: non-positive interval %s", name, every)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("loops must be registered before start")
	}
	s.loops = append(s.loops, &loop{name: name, every: every, timeout: s.cfg.Timeout, fn: fn})
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New()
	for _, l := range s.loops {
		l := l
		spec := fmt.Sprintf("@every %s", l.every)
		if _, err := s.c.AddFunc(spec, func() { s.tick(l) }); err != nil {
			s.runCancel()
			s.c = nil
			return fmt.Errorf("register loop %q: %w", l.name, err)
		}
	}
	s.c.Start()
	s.log.Info("maintenance loops started", logx.Int("loops", len(s.loops)))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.log.Info("maintenance loops stopped")
}

// Snapshot reports the current state of every registered loop.
func (s *Service) Snapshot() []LoopStatus {
	s.mu.Lock()
	loops := make([]*loop, len(s.loops))
	copy(loops, s.loops)
	s.mu.Unlock()

	out := make([]LoopStatus, 0, len(loops))
	for _, l := range loops {
		l.mu.Lock()
		out = append(out, LoopStatus{
			Name:      l.name,
			Every:     l.every,
			Running:   l.running.Load(),
			Runs:      l.runs,
			Failures:  l.failures,
			LastStart: l.lastStart,
			LastError: l.lastErr,
		})
		l.mu.Unlock()
	}
	return out
}

func (s *Service) tick(l *loop) {
	if s.gate != nil && !s.gate.Ready() {
		s.log.Debug("loop skipped, not ready", logx.String("loop", l.name))
		return
	}
	if !l.running.CompareAndSwap(false, true) {
		s.log.Warn("loop still running, tick skipped", logx.String("loop", l.name))
		return
	}
	defer l.running.Store(false)

	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()

	start := time.Now()
	err := s.runOne(ctx, l)

	l.mu.Lock()
	l.runs++
	l.lastStart = start
	if err != nil {
		l.failures++
		l.lastErr = err.Error()
	} else {
		l.lastErr = ""
	}
	l.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("loop failed", logx.String("loop", l.name),
			logx.Duration("took", time.Since(start)), logx.Err(err))
	} else if err == nil {
		s.log.Debug("loop ok", logx.String("loop", l.name),
			logx.Duration("took", time.Since(start)))
	}
}

func (s *Service) runOne(ctx context.Context, l *loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop %q panicked: %v", l.name, r)
			s.log.Error("loop panic", logx.String("loop", l.name),
				logx.Any("panic", r), logx.String("stack", logx.StackTrace()))
		}
	}()
	return l.fn(ctx)
}

// RunNow executes a registered loop immediately, outside its schedule.
// Used at startup to prime state without waiting for the first tick.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	var target *loop
	for _, l := range s.loops {
		if l.name == name {
			target = l
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false
	}
	s.tick(target)
	return true
}
