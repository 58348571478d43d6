package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bitacora/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const jobColumns = `id,order_id,COALESCE(grouping_code,'') AS grouping_code,COALESCE(description,'') AS description,messages_json,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.TrackedJob, error) {
	var j domain.TrackedJob
	var messagesJSON string
	err := row.Scan(&j.ID, &j.OrderID, &j.GroupingCode, &j.Description, &messagesJSON, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if err := json.Unmarshal([]byte(messagesJSON), &j.Messages); err != nil {
		return j, fmt.Errorf("decode messages for job %s: %w", j.ID, err)
	}
	if j.Messages == nil {
		j.Messages = []domain.Message{}
	}
	return j, nil
}

// ListJobs returns all tracked jobs, most recently created first.
func (r Repo) ListJobs(ctx context.Context) ([]domain.TrackedJob, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackedJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.TrackedJob, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.TrackedJob, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

// FindJobByOrderID looks a job up by work-order identifier using the
// duplicate-guard normalization, so lookup and the creation-time uniqueness
// check can never diverge in what "same work order" means.
func (r Repo) FindJobByOrderID(ctx context.Context, orderID string) (domain.TrackedJob, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE order_norm=?`, domain.NormalizeOrderID(orderID)))
}

func (r Repo) FindJobByOrderIDTx(ctx context.Context, tx *sql.Tx, orderID string) (domain.TrackedJob, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE order_norm=?`, domain.NormalizeOrderID(orderID)))
}

// UpsertJob replaces the whole job row, nested message and receipt collections
// included. This is the only write path for ledgers.
func (r Repo) UpsertJob(ctx context.Context, j domain.TrackedJob) error {
	return upsertJob(ctx, r.DB, j)
}

func (r Repo) UpsertJobTx(ctx context.Context, tx *sql.Tx, j domain.TrackedJob) error {
	return upsertJob(ctx, tx, j)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertJob(ctx context.Context, ex execer, j domain.TrackedJob) error {
	messages := j.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages for job %s: %w", j.ID, err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO jobs(id,order_id,order_norm,grouping_code,description,messages_json,created_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			order_id=excluded.order_id,
			order_norm=excluded.order_norm,
			grouping_code=excluded.grouping_code,
			description=excluded.description,
			messages_json=excluded.messages_json`,
		j.ID, j.OrderID, domain.NormalizeOrderID(j.OrderID), nullable(j.GroupingCode), nullable(j.Description), string(data), j.CreatedAt)
	return err
}

// DeleteJob removes a ledger. Administrative escape hatch only; the engine
// never calls it.
func (r Repo) DeleteJob(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountJobs(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n)
	return n, err
}

// LatestEvents returns up to limit events, newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, jobID string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(job_id,'') AS job_id,actor_id,payload_json FROM events`
	var (
		clauses []string
		args    []any
	)
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first. Pollers and webhook dispatchers page through the log with this.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(job_id,'') AS job_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.JobID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
