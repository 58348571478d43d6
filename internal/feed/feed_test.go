package feed

import (
	"context"
	"testing"

	"bitacora/internal/db"
	"bitacora/internal/events"
	"bitacora/internal/migrate"
	"bitacora/internal/repo"
)

func TestSubscribeAndBroadcast(t *testing.T) {
	f := New()
	var a, b int
	unsubA := f.Subscribe(func() { a++ })
	unsubB := f.Subscribe(func() { b++ })

	f.Broadcast()
	if a != 1 || b != 1 {
		t.Fatalf("both subscribers should fire: a=%d b=%d", a, b)
	}

	unsubA()
	f.Broadcast()
	if a != 1 || b != 2 {
		t.Fatalf("unsubscribed callback must not fire: a=%d b=%d", a, b)
	}

	// Unsubscribing twice is harmless, including for the other subscriber.
	unsubA()
	unsubB()
	f.Broadcast()
	if a != 1 || b != 2 {
		t.Fatalf("post-unsubscribe broadcast changed counts: a=%d b=%d", a, b)
	}
}

func newEventLog(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func appendEvents(t *testing.T, r repo.Repo, n int) {
	t.Helper()
	ctx := context.Background()
	w := events.Writer{DB: r.DB}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Append(ctx, tx, "message.append", "j1", "alice", nil); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestPollerCoalescesPulses(t *testing.T) {
	ctx := context.Background()
	r := newEventLog(t)
	f := New()
	pulses := 0
	f.Subscribe(func() { pulses++ })
	p := &Poller{Repo: r, Feed: f}

	// Nothing written yet.
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pulses != 0 {
		t.Fatalf("no events, no pulse; got %d", pulses)
	}

	// Several events between polls still produce one pulse.
	appendEvents(t, r, 3)
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pulses != 1 {
		t.Fatalf("expected one coalesced pulse, got %d", pulses)
	}

	// No new events, no new pulse.
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pulses != 1 {
		t.Fatalf("idle poll must not pulse, got %d", pulses)
	}

	appendEvents(t, r, 1)
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if pulses != 2 {
		t.Fatalf("new event should pulse again, got %d", pulses)
	}
}
