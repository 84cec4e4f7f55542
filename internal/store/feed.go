package store

import (
	"sync"
	"sync/atomic"
)

// feed is the in-memory fanout behind Watch, shared by both drivers.
//
// Contract:
//   - publish MUST be non-blocking.
//   - Subscribers get buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type feed struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*feedSub // collection -> id -> sub
	seq  atomic.Uint64
}

type feedSub struct {
	ch   chan Event
	once sync.Once
}

func (s *feedSub) close() { s.once.Do(func() { close(s.ch) }) }

func newFeed() *feed {
	return &feed{subs: map[string]map[uint64]*feedSub{}}
}

func (f *feed) publish(collection string, e Event) {
	// Snapshot subscribers so publish doesn't hold locks while attempting sends.
	f.mu.RLock()
	subs := make([]*feedSub, 0, len(f.subs[collection]))
	for _, s := range f.subs[collection] {
		subs = append(subs, s)
	}
	f.mu.RUnlock()

	for _, s := range subs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
			}
		}()
	}
}

func (f *feed) subscribe(collection string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &feedSub{ch: make(chan Event, buffer)}
	id := f.seq.Add(1)

	f.mu.Lock()
	if f.subs[collection] == nil {
		f.subs[collection] = map[uint64]*feedSub{}
	}
	f.subs[collection][id] = sub
	f.mu.Unlock()

	unsub := func() {
		f.mu.Lock()
		delete(f.subs[collection], id)
		if len(f.subs[collection]) == 0 {
			delete(f.subs, collection)
		}
		f.mu.Unlock()
		// Closing is safe because publish recovers from send panics.
		sub.close()
	}
	return sub.ch, unsub
}

func (f *feed) watched() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.subs))
	for c := range f.subs {
		out = append(out, c)
	}
	return out
}

func (f *feed) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = map[string]map[uint64]*feedSub{}
	f.mu.Unlock()
	for _, m := range subs {
		for _, s := range m {
			s.close()
		}
	}
}
