// Package feed delivers content-free change pulses. A pulse says only
// "something changed, reload"; it carries no identity of what changed and
// consecutive changes may coalesce into one pulse, so consumers must reload
// full state rather than apply deltas.
package feed

import (
	"context"
	"sync"
	"time"

	"bitacora/internal/repo"
)

type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

func New() *Feed {
	return &Feed{subs: make(map[int]func())}
}

// Subscribe registers a callback invoked on every pulse. The returned func
// permanently deregisters it and is safe to call more than once.
func (f *Feed) Subscribe(fn func()) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Broadcast invokes every subscribed callback once. Callbacks run on the
// caller's goroutine and should hand off any slow reload work themselves.
func (f *Feed) Broadcast() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

const defaultPollInterval = 2 * time.Second

// Poller turns writes by other processes into pulses. It follows the events
// table with a cursor and broadcasts at most one pulse per tick, regardless of
// how many events landed since the last one.
type Poller struct {
	Repo     repo.Repo
	Feed     *Feed
	Interval time.Duration

	cursor int64
}

// Run polls until ctx is canceled. The cursor starts at the current log head,
// so only writes after Run began produce pulses.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	head, err := p.Repo.LatestEventID(ctx)
	if err != nil {
		return err
	}
	p.cursor = head
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				return err
			}
		}
	}
}

// Poll performs one cursor check, broadcasting iff new events exist.
func (p *Poller) Poll(ctx context.Context) error {
	head, err := p.Repo.LatestEventID(ctx)
	if err != nil {
		return err
	}
	if head > p.cursor {
		p.cursor = head
		p.Feed.Broadcast()
	}
	return nil
}
