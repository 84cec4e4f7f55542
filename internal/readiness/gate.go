// Package readiness tracks process-wide startup preconditions.
//
// Two independent flags gate all background work: the dependency caches must
// be primed (first settings snapshot applied) and the transport session must
// be connected. Consumers poll Wait() instead of failing; work produced
// before readiness is held, not dropped.
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "chartbot/pkg/logx"
)

// DefaultPollInterval is how often Wait re-checks the flags.
// Deliberately coarse: readiness flips once per process lifetime.
const DefaultPollInterval = 60 * time.Second

type Gate struct {
	mu           sync.Mutex
	cachesPrimed bool
	sessionUp    bool
	notified     bool

	poll time.Duration
	log  logx.Logger
}

func NewGate(log logx.Logger) *Gate {
	return &Gate{poll: DefaultPollInterval, log: log}
}

// WithPollInterval overrides the Wait poll interval (tests).
func (g *Gate) WithPollInterval(d time.Duration) *Gate {
	if d > 0 {
		g.poll = d
	}
	return g
}

// SetCachesPrimed marks the dependency caches healthy.
func (g *Gate) SetCachesPrimed() { g.set(&g.cachesPrimed, "caches primed") }

// SetSessionUp marks the transport session connected and authenticated.
func (g *Gate) SetSessionUp() { g.set(&g.sessionUp, "session connected") }

// SetSessionDown clears the session flag (transport reconnecting).
func (g *Gate) SetSessionDown() {
	g.mu.Lock()
	g.sessionUp = false
	g.mu.Unlock()
	g.log.Warn("readiness: session down")
}

func (g *Gate) set(flag *bool, what string) {
	g.mu.Lock()
	already := *flag
	*flag = true
	ready := g.cachesPrimed && g.sessionUp
	doNotify := ready && !g.notified
	if doNotify {
		g.notified = true
	}
	g.mu.Unlock()

	if !already {
		g.log.Info("readiness: " + what)
	}
	if doNotify {
		g.log.Info("readiness: all startup preconditions met")
		// Best effort; no-op outside systemd.
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	}
}

// Ready reports whether both flags are set.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cachesPrimed && g.sessionUp
}

// Wait blocks until the gate is ready or ctx is done. It polls on a fixed
// interval rather than waking on a condition; latency here is irrelevant
// next to the startup it guards.
func (g *Gate) Wait(ctx context.Context) error {
	if g.Ready() {
		return nil
	}
	t := time.NewTicker(g.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if g.Ready() {
				return nil
			}
		}
	}
}
