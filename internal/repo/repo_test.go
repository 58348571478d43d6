package repo_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"bitacora/internal/db"
	"bitacora/internal/domain"
	"bitacora/internal/events"
	"bitacora/internal/migrate"
	"bitacora/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
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

func sampleJob(id, orderID, createdAt string) domain.TrackedJob {
	return domain.TrackedJob{
		ID:           id,
		OrderID:      orderID,
		GroupingCode: "OF-3",
		Description:  "Montaje línea 2, revisión urgente",
		CreatedAt:    createdAt,
		Messages: []domain.Message{{
			ID:           id + "-m1",
			AuthorID:     "alice",
			AuthorName:   "Alice",
			AuthorSector: domain.SectorTaller,
			Body:         "Inició seguimiento de trabajo desde el sector TALLER",
			CreatedAt:    createdAt,
			Receipts: []domain.ReadReceipt{{
				ReaderID:     "alice",
				ReaderName:   "Alice",
				ReaderSector: domain.SectorTaller,
				AckedAt:      createdAt,
			}},
		}},
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := sampleJob("j1", "OT-4471", "2024-05-06T12:00:00Z")

	if err := r.UpsertJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, job) {
		t.Fatalf("round trip lost data:\n got %+v\nwant %+v", got, job)
	}

	// The upsert replaces the whole row, nested receipts included.
	job.Messages[0].Receipts = append(job.Messages[0].Receipts, domain.ReadReceipt{
		ReaderID: "bob", ReaderName: "Bob", ReaderSector: domain.SectorTecnica, AckedAt: "2024-05-06T12:01:00Z",
	})
	if err := r.UpsertJob(ctx, job); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = r.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if len(got.Messages[0].Receipts) != 2 {
		t.Fatalf("expected 2 receipts after update, got %d", len(got.Messages[0].Receipts))
	}
}

func TestGetJobEmptyMessages(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	job := domain.TrackedJob{ID: "j1", OrderID: "OT-1", CreatedAt: "2024-05-06T12:00:00Z"}
	if err := r.UpsertJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := r.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Messages == nil || len(got.Messages) != 0 {
		t.Fatalf("messages must decode to an empty slice, got %#v", got.Messages)
	}
}

func TestFindJobByOrderIDNormalizes(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.UpsertJob(ctx, sampleJob("j1", "OT-4471", "2024-05-06T12:00:00Z")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, q := range []string{"OT-4471", "ot-4471", "  Ot-4471 "} {
		got, err := r.FindJobByOrderID(ctx, q)
		if err != nil {
			t.Fatalf("find %q: %v", q, err)
		}
		if got.ID != "j1" {
			t.Fatalf("find %q returned %s", q, got.ID)
		}
	}
	if _, err := r.FindJobByOrderID(ctx, "OT-9999"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing order: %v", err)
	}
}

func TestGetAndDeleteNotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.GetJob(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	if err := r.DeleteJob(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete missing: %v", err)
	}
	if err := r.UpsertJob(ctx, sampleJob("j1", "OT-1", "2024-05-06T12:00:00Z")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.DeleteJob(ctx, "j1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetJob(ctx, "j1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		job := sampleJob(fmt.Sprintf("j%d", i), fmt.Sprintf("OT-%d", i), fmt.Sprintf("2024-05-06T12:00:0%dZ", i))
		if err := r.UpsertJob(ctx, job); err != nil {
			t.Fatalf("upsert j%d: %v", i, err)
		}
	}
	jobs, err := r.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, want := range []string{"j3", "j2", "j1"} {
		if jobs[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, jobs[i].ID, want)
		}
	}
	n, err := r.CountJobs(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count: %d, %v", n, err)
	}
}

func TestEventLog(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i, typ := range []string{"ledger.start", "message.append", "receipt.record"} {
		if err := w.Append(ctx, tx, typ, "j1", "alice", events.EventPayload{"n": i}); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	if err := w.Append(ctx, tx, "ledger.start", "j2", "bob", nil); err != nil {
		t.Fatalf("append for j2: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	latest, err := r.LatestEvents(ctx, 10, "", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 4 || latest[0].Type != "ledger.start" || latest[0].JobID != "j2" {
		t.Fatalf("latest must be newest first, got %+v", latest)
	}

	byType, err := r.LatestEvents(ctx, 10, "ledger.start", "")
	if err != nil || len(byType) != 2 {
		t.Fatalf("type filter: %d events, %v", len(byType), err)
	}
	byJob, err := r.LatestEvents(ctx, 10, "", "j1")
	if err != nil || len(byJob) != 3 {
		t.Fatalf("job filter: %d events, %v", len(byJob), err)
	}

	head, err := r.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != latest[0].ID {
		t.Fatalf("head %d, want %d", head, latest[0].ID)
	}

	after, err := r.EventsAfter(ctx, 10, latest[len(latest)-1].ID)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(after) != 3 {
		t.Fatalf("expected 3 events after the oldest, got %d", len(after))
	}
	for i := 1; i < len(after); i++ {
		if after[i].ID <= after[i-1].ID {
			t.Fatalf("events after must be oldest first: %+v", after)
		}
	}
}

func TestLatestEventIDEmptyLog(t *testing.T) {
	r := newTestRepo(t)
	head, err := r.LatestEventID(context.Background())
	if err != nil || head != 0 {
		t.Fatalf("empty log head = %d, %v", head, err)
	}
}
