// Package delivery moves queued notifications out of the document store and
// onto the chat transport, with a primary destination and a backup fallback.
package delivery

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"chartbot/internal/readiness"
	"chartbot/internal/store"
	logx "chartbot/pkg/logx"
)

func New(cfg Config, router *Router, docs store.Store, gate *readiness.Gate, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		router:  router,
		docs:    docs,
		gate:    gate,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan task, cfg.QueueSize),
	}
}

// Start subscribes to the notification change feed and launches the worker
// pool. Subscription happens immediately — possibly before the transport is
// ready — but no send is attempted until the readiness gate opens.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		return nil
	}

	events, unsub, err := s.docs.Watch(Collection)
	if err != nil {
		return err
	}
	s.unsub = unsub
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func(idx int) {
			defer s.workerWG.Done()
			s.worker(s.runCtx, idx)
		}(i)
	}

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.consumeFeed(s.runCtx, events)
	}()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.drainBacklog(s.runCtx)
	}()

	s.log.Info("delivery service started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", s.cfg.QueueSize))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	unsub := s.unsub
	s.runCancel = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.workerWG.Wait()
}

// consumeFeed forwards Added/Modified events onto the bounded queue.
// Removed events are the router's own deletes echoing back; ignored.
func (s *Service) consumeFeed(ctx context.Context, events <-chan store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != store.Added && e.Type != store.Modified {
				continue
			}
			t := task{path: e.Path, n: Decode(e.ID, e.Doc)}
			select {
			case <-ctx.Done():
				return
			case s.queue <- t:
			}
		}
	}
}

// drainBacklog enqueues notifications that were already in the store at
// startup. The change feed only reports new writes, so records stranded by a
// restart would otherwise wait for the producer to touch them again.
func (s *Service) drainBacklog(ctx context.Context) {
	if err := s.gate.Wait(ctx); err != nil {
		return
	}
	docs, err := s.docs.List(ctx, Collection)
	if err != nil {
		s.log.Warn("delivery backlog scan failed", logx.Err(err))
		return
	}
	for id, doc := range docs {
		t := task{path: store.JoinPath(Collection, id), n: Decode(id, doc)}
		select {
		case <-ctx.Done():
			return
		case s.queue <- t:
		}
	}
	if len(docs) > 0 {
		s.log.Info("delivery backlog enqueued", logx.Int("count", len(docs)))
	}
}

func (s *Service) worker(ctx context.Context, idx int) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			s.exec(ctx, t)
		}
	}
}

func (s *Service) exec(ctx context.Context, t task) {
	// Hold work, never drop it, until the process is ready.
	if err := s.gate.Wait(ctx); err != nil {
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}
	err := s.router.Deliver(ctx, t.path, t.n)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		// clean stop
	case errors.Is(err, ErrUndeliverable):
		// already logged by the router; record retained for the producer
	default:
		s.log.Warn("delivery attempt failed", logx.String("id", t.n.ID), logx.Err(err))
	}
}
