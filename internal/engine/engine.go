package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bitacora/internal/domain"
	"bitacora/internal/events"
	"bitacora/internal/feed"
	"bitacora/internal/repo"
)

// Engine is the sole authority over ledger mutations. Every operation runs in
// one transaction that re-reads the current job row before merging changes in,
// so concurrent writers against the same whole-row store never clobber each
// other's receipts.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Feed   *feed.Feed
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) pulse() {
	if e.Feed != nil {
		e.Feed.Broadcast()
	}
}

func persistErr(op string, err error) error {
	return PersistenceError{Op: op, Err: err}
}

func validateActor(a domain.Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return InvalidInputError{Reason: "actor id is required"}
	}
	if !a.Sector.Valid() {
		return InvalidInputError{Reason: fmt.Sprintf("unknown sector %q", a.Sector)}
	}
	return nil
}

// StartTrackingOptions are parameters for opening a ledger.
type StartTrackingOptions struct {
	OrderID      string
	GroupingCode string
	Description  string
	Actor        domain.Actor
}

// StartTracking opens the ledger for a work order. The first message announces
// the start from the initiator's sector and carries the initiator's eager
// self-receipt; for every later message the author's own read status is
// derived, not stored.
func (e Engine) StartTracking(ctx context.Context, opts StartTrackingOptions) (domain.TrackedJob, error) {
	orderID := strings.TrimSpace(opts.OrderID)
	if orderID == "" {
		return domain.TrackedJob{}, InvalidInputError{Reason: "work order id is required"}
	}
	if err := validateActor(opts.Actor); err != nil {
		return domain.TrackedJob{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedJob{}, persistErr("begin start tracking", err)
	}
	defer tx.Rollback()

	existing, err := e.Repo.FindJobByOrderIDTx(ctx, tx, orderID)
	if err == nil {
		return domain.TrackedJob{}, DuplicateLedgerError{OrderID: existing.OrderID}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.TrackedJob{}, persistErr("check duplicate ledger", err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	job := domain.TrackedJob{
		ID:           e.newID(),
		OrderID:      orderID,
		GroupingCode: strings.TrimSpace(opts.GroupingCode),
		Description:  strings.TrimSpace(opts.Description),
		CreatedAt:    now,
		Messages: []domain.Message{{
			ID:           e.newID(),
			AuthorID:     opts.Actor.ID,
			AuthorName:   opts.Actor.Name,
			AuthorSector: opts.Actor.Sector,
			Body:         fmt.Sprintf("Inició seguimiento de trabajo desde el sector %s", opts.Actor.Sector),
			CreatedAt:    now,
			Receipts: []domain.ReadReceipt{{
				ReaderID:     opts.Actor.ID,
				ReaderName:   opts.Actor.Name,
				ReaderSector: opts.Actor.Sector,
				AckedAt:      now,
			}},
		}},
	}
	if err := e.Repo.UpsertJobTx(ctx, tx, job); err != nil {
		return domain.TrackedJob{}, persistErr("write ledger", err)
	}
	if err := e.Events.Append(ctx, tx, "ledger.start", job.ID, opts.Actor.ID, events.EventPayload{"order_id": job.OrderID}); err != nil {
		return domain.TrackedJob{}, persistErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TrackedJob{}, persistErr("commit start tracking", err)
	}
	e.pulse()
	return job, nil
}

// AppendMessage adds one entry to a job's ledger. The message is immutable
// once appended and carries the author's self-receipt from the start.
func (e Engine) AppendMessage(ctx context.Context, jobID string, actor domain.Actor, body string) (domain.TrackedJob, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.TrackedJob{}, InvalidInputError{Reason: "message body is required"}
	}
	if err := validateActor(actor); err != nil {
		return domain.TrackedJob{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedJob{}, persistErr("begin append message", err)
	}
	defer tx.Rollback()

	job, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TrackedJob{}, fmt.Errorf("job %s: %w", jobID, err)
		}
		return domain.TrackedJob{}, persistErr("load ledger", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	msg := domain.Message{
		ID:           e.newID(),
		AuthorID:     actor.ID,
		AuthorName:   actor.Name,
		AuthorSector: actor.Sector,
		Body:         body,
		CreatedAt:    now,
		Receipts: []domain.ReadReceipt{{
			ReaderID:     actor.ID,
			ReaderName:   actor.Name,
			ReaderSector: actor.Sector,
			AckedAt:      now,
		}},
	}
	job.Messages = append(job.Messages, msg)
	if err := e.Repo.UpsertJobTx(ctx, tx, job); err != nil {
		return domain.TrackedJob{}, persistErr("write ledger", err)
	}
	if err := e.Events.Append(ctx, tx, "message.append", job.ID, actor.ID, events.EventPayload{"message_id": msg.ID}); err != nil {
		return domain.TrackedJob{}, persistErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TrackedJob{}, persistErr("commit append message", err)
	}
	e.pulse()
	return job, nil
}

// RecordReceipt acknowledges one message for the reader. A second receipt for
// the same (message, reader) pair is a no-op, never a duplicate and never a
// timestamp update.
func (e Engine) RecordReceipt(ctx context.Context, jobID, messageID string, reader domain.Actor) (domain.TrackedJob, error) {
	if err := validateActor(reader); err != nil {
		return domain.TrackedJob{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedJob{}, persistErr("begin record receipt", err)
	}
	defer tx.Rollback()

	job, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TrackedJob{}, fmt.Errorf("job %s: %w", jobID, err)
		}
		return domain.TrackedJob{}, persistErr("load ledger", err)
	}
	idx, ok := job.FindMessage(messageID)
	if !ok {
		return domain.TrackedJob{}, fmt.Errorf("message %s: %w", messageID, repo.ErrNotFound)
	}
	if job.Messages[idx].HasReceiptFrom(reader.ID) {
		return job, nil
	}
	job.Messages[idx].Receipts = append(job.Messages[idx].Receipts, domain.ReadReceipt{
		ReaderID:     reader.ID,
		ReaderName:   reader.Name,
		ReaderSector: reader.Sector,
		AckedAt:      e.now().UTC().Format(time.RFC3339),
	})
	if err := e.Repo.UpsertJobTx(ctx, tx, job); err != nil {
		return domain.TrackedJob{}, persistErr("write ledger", err)
	}
	if err := e.Events.Append(ctx, tx, "receipt.record", job.ID, reader.ID, events.EventPayload{"message_id": messageID}); err != nil {
		return domain.TrackedJob{}, persistErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TrackedJob{}, persistErr("commit record receipt", err)
	}
	e.pulse()
	return job, nil
}

// RecordAllReceipts acknowledges every message the reader has not yet read, in
// one atomic update. The job is re-read inside the transaction immediately
// before merging, so two actors bulk-acking disjoint messages both land.
func (e Engine) RecordAllReceipts(ctx context.Context, jobID string, reader domain.Actor) (domain.TrackedJob, error) {
	if err := validateActor(reader); err != nil {
		return domain.TrackedJob{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedJob{}, persistErr("begin record all receipts", err)
	}
	defer tx.Rollback()

	job, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TrackedJob{}, fmt.Errorf("job %s: %w", jobID, err)
		}
		return domain.TrackedJob{}, persistErr("load ledger", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	added := 0
	for i := range job.Messages {
		if job.Messages[i].HasReceiptFrom(reader.ID) {
			continue
		}
		job.Messages[i].Receipts = append(job.Messages[i].Receipts, domain.ReadReceipt{
			ReaderID:     reader.ID,
			ReaderName:   reader.Name,
			ReaderSector: reader.Sector,
			AckedAt:      now,
		})
		added++
	}
	if added == 0 {
		return job, nil
	}
	if err := e.Repo.UpsertJobTx(ctx, tx, job); err != nil {
		return domain.TrackedJob{}, persistErr("write ledger", err)
	}
	if err := e.Events.Append(ctx, tx, "receipt.record_all", job.ID, reader.ID, events.EventPayload{"receipts": added}); err != nil {
		return domain.TrackedJob{}, persistErr("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TrackedJob{}, persistErr("commit record all receipts", err)
	}
	e.pulse()
	return job, nil
}

// JobFilters narrow ListJobs. Search matches work-order id and grouping code,
// case-insensitive; UnreadFor keeps only jobs with messages the actor has not
// acknowledged.
type JobFilters struct {
	Search    string
	UnreadFor string
}

func (e Engine) ListJobs(ctx context.Context, f JobFilters) ([]domain.TrackedJob, error) {
	jobs, err := e.Repo.ListJobs(ctx)
	if err != nil {
		return nil, persistErr("list ledgers", err)
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var res []domain.TrackedJob
	for _, j := range jobs {
		if search != "" &&
			!strings.Contains(strings.ToLower(j.OrderID), search) &&
			!strings.Contains(strings.ToLower(j.GroupingCode), search) {
			continue
		}
		if f.UnreadFor != "" && !j.UnreadFor(f.UnreadFor) {
			continue
		}
		res = append(res, j)
	}
	return res, nil
}

func (e Engine) GetJob(ctx context.Context, id string) (domain.TrackedJob, error) {
	job, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TrackedJob{}, fmt.Errorf("job %s: %w", id, err)
		}
		return domain.TrackedJob{}, persistErr("load ledger", err)
	}
	return job, nil
}
