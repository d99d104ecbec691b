package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// TableName is the canonical table backing the queue.
const TableName = "pg_loco_queue"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ` + TableName + ` (
	id VARCHAR NOT NULL PRIMARY KEY,
	name VARCHAR NOT NULL,
	task_data JSONB NOT NULL,
	status VARCHAR NOT NULL DEFAULT '` + string(StatusQueued) + `',
	run_at TIMESTAMPTZ NOT NULL,
	interval BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	tags JSONB
);
`

// InitializeDatabase idempotently creates the job table. Safe to call
// on every process start.
func InitializeDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return wrapDB("init_schema", "failed to initialize job queue schema", err)
	}
	return nil
}

// newJobID returns a fresh, lexicographically sortable job id.
func newJobID() string {
	return ulid.Make().String()
}

// Enqueue inserts a new Queued job. data is marshaled to JSON; tags, if
// present, must be a non-empty set (an empty slice is stored as
// untagged, consistent with how rows are read back).
func Enqueue(ctx context.Context, pool *pgxpool.Pool, name string, data any, runAt time.Time, interval *time.Duration, tags []string) (string, error) {
	return enqueue(ctx, pool, nil, name, data, runAt, interval, tags)
}

// EnqueueWithStore behaves like Enqueue but offloads the payload to
// store when it is configured and the marshaled payload meets its
// size threshold (see PayloadStore).
func EnqueueWithStore(ctx context.Context, pool *pgxpool.Pool, store *PayloadStore, name string, data any, runAt time.Time, interval *time.Duration, tags []string) (string, error) {
	return enqueue(ctx, pool, store, name, data, runAt, interval, tags)
}

func enqueue(ctx context.Context, pool *pgxpool.Pool, store *PayloadStore, name string, data any, runAt time.Time, interval *time.Duration, tags []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &Error{Code: "invalid_input", Message: "job name must not be empty", Err: ErrEmptyName}
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", wrapDB("marshal_payload", "failed to marshal job payload", err)
	}

	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return "", wrapDB("marshal_tags", "failed to marshal job tags", err)
	}

	var intervalMS *int64
	if interval != nil {
		ms := interval.Milliseconds()
		intervalMS = &ms
	}

	id := newJobID()

	if store != nil {
		dataJSON, err = store.Offload(ctx, id, dataJSON)
		if err != nil {
			return "", err
		}
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO `+TableName+` (id, task_data, name, run_at, interval, tags) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, dataJSON, name, runAt.UTC(), intervalMS, tagsJSON,
	)
	if err != nil {
		return "", wrapDB("enqueue", "failed to enqueue job", err)
	}
	return id, nil
}

// Claim performs the atomic select-for-update-skip-locked + status
// transition. It returns (nil, nil) when no
// job is eligible. ctx governs both the transactional I/O and must be
// cancellation-observant: the caller is expected to derive ctx from a
// context that is cancelled on shutdown so Claim does not block a
// worker indefinitely on a wedged connection.
func Claim(ctx context.Context, pool *pgxpool.Pool, workerTags []string) (*Job, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, wrapDB("claim_begin", "failed to begin claim transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query, args := buildClaimQuery(workerTags)

	row := tx.QueryRow(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Nothing eligible; commit (no mutation happened either way).
		if cerr := tx.Commit(ctx); cerr != nil {
			return nil, wrapDB("claim_commit", "failed to commit empty claim", cerr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, wrapDB("claim_scan", "failed to read claimable job", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+TableName+` SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(StatusProcessing), job.ID,
	); err != nil {
		return nil, wrapDB("claim_update", "failed to mark job processing", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapDB("claim_commit", "failed to commit claim", err)
	}

	job.Status = StatusProcessing
	return job, nil
}

// buildClaimQuery renders the tag-routing predicate. Worker
// tags are bound as parameters (never interpolated), each checked with
// the jsonb `?` containment operator, ORed together.
func buildClaimQuery(workerTags []string) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, name, task_data, status, run_at, interval, tags, created_at, updated_at FROM `)
	b.WriteString(TableName)
	b.WriteString(` WHERE status = $1 AND run_at <= NOW() `)

	args := []any{string(StatusQueued)}

	if len(workerTags) == 0 {
		b.WriteString(`AND tags IS NULL `)
	} else {
		b.WriteString(`AND tags IS NOT NULL AND (`)
		conds := make([]string, 0, len(workerTags))
		for _, tag := range workerTags {
			args = append(args, tag)
			conds = append(conds, fmt.Sprintf(`tags ? $%d`, len(args)))
		}
		b.WriteString(strings.Join(conds, " OR "))
		b.WriteString(`) `)
	}

	b.WriteString(`ORDER BY run_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`)
	return b.String(), args
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows, letting
// scanJob serve both Claim (QueryRow) and GetJobs (Rows.Scan-in-loop).
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j            Job
		statusRaw    string
		tagsRaw      []byte
		dataRaw      []byte
	)
	if err := row.Scan(&j.ID, &j.Name, &dataRaw, &statusRaw, &j.RunAt, &j.Interval, &tagsRaw, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}

	status, err := ParseJobStatus(statusRaw)
	if err != nil {
		return nil, err
	}
	j.Status = status
	j.Data = json.RawMessage(dataRaw)

	tags, err := normalizeTags(tagsRaw)
	if err != nil {
		return nil, err
	}
	j.Tags = tags

	return &j, nil
}

// Complete marks a claimed job done: terminal when interval is nil,
// otherwise requeued for the next recurrence at now+interval.
func Complete(ctx context.Context, pool *pgxpool.Pool, jobID string, interval *int64) error {
	var (
		status JobStatus
		runAt  time.Time
	)
	if interval == nil {
		status = StatusCompleted
		runAt = time.Now().UTC()
	} else {
		status = StatusQueued
		runAt = time.Now().UTC().Add(time.Duration(*interval) * time.Millisecond)
	}

	tag, err := pool.Exec(ctx,
		`UPDATE `+TableName+` SET status = $1, updated_at = NOW(), run_at = $2 WHERE id = $3`,
		string(status), runAt, jobID,
	)
	if err != nil {
		return wrapDB("complete", "failed to mark job completed", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Code: "not_found", Message: fmt.Sprintf("job %s not found", jobID), Err: ErrJobNotFound}
	}
	return nil
}

// Fail marks a claimed job failed: status -> failed, and the error message is
// merged into task_data via Postgres jsonb concatenation. If task_data
// is an object the error key is added/overwritten; if it is an array,
// {"error":...} is appended as its last element; if it is a scalar,
// the result is the two-element array [original, {"error":...}], per
// jsonb `||` semantics. Callers must not depend on a specific shape.
func Fail(ctx context.Context, pool *pgxpool.Pool, jobID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	errJSON, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return wrapDB("marshal_fail", "failed to marshal failure payload", err)
	}

	tag, err := pool.Exec(ctx,
		`UPDATE `+TableName+` SET status = $1, updated_at = NOW(), task_data = task_data || $2::jsonb WHERE id = $3`,
		string(StatusFailed), errJSON, jobID,
	)
	if err != nil {
		return wrapDB("fail", "failed to mark job failed", err)
	}
	if tag.RowsAffected() == 0 {
		return &Error{Code: "not_found", Message: fmt.Sprintf("job %s not found", jobID), Err: ErrJobNotFound}
	}
	return nil
}

// CancelByName cancels pending work by name: only Queued rows with the
// given name are affected; in-flight Processing rows are untouched.
func CancelByName(ctx context.Context, pool *pgxpool.Pool, name string) error {
	_, err := pool.Exec(ctx,
		`UPDATE `+TableName+` SET status = $1, updated_at = NOW() WHERE name = $2 AND status = $3`,
		string(StatusCancelled), name, string(StatusQueued),
	)
	if err != nil {
		return wrapDB("cancel_by_name", "failed to cancel jobs by name", err)
	}
	return nil
}

// Clear deletes every row.
func Clear(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `DELETE FROM `+TableName); err != nil {
		return wrapDB("clear", "failed to clear job queue", err)
	}
	return nil
}

// ClearByStatus deletes every row whose status is in statuses.
// Statuses are always bound as a parameter, never interpolated,
// avoiding any SQL-injection-shaped ambiguity from building the list by hand.
func ClearByStatus(ctx context.Context, pool *pgxpool.Pool, statuses []JobStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	_, err := pool.Exec(ctx, `DELETE FROM `+TableName+` WHERE status = ANY($1)`, statusStrings(statuses))
	if err != nil {
		return wrapDB("clear_by_status", "failed to clear jobs by status", err)
	}
	return nil
}

// ClearOlderThan deletes rows created more than ageDays ago, optionally
// restricted to statuses.
func ClearOlderThan(ctx context.Context, pool *pgxpool.Pool, ageDays int64, statuses []JobStatus) error {
	query := `DELETE FROM ` + TableName + ` WHERE created_at < NOW() - ($1 * INTERVAL '1 day')`
	args := []any{ageDays}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statusStrings(statuses))
	}
	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return wrapDB("clear_older_than", "failed to clear aged jobs", err)
	}
	return nil
}

// Requeue reclaims orphaned jobs: rows stuck in Processing whose
// updated_at is older than ageMinutes, the backstop for crashed
// workers.
func Requeue(ctx context.Context, pool *pgxpool.Pool, ageMinutes int64) error {
	_, err := pool.Exec(ctx,
		`UPDATE `+TableName+` SET status = $1, updated_at = NOW() WHERE status = $2 AND updated_at <= NOW() - ($3 * INTERVAL '1 minute')`,
		string(StatusQueued), string(StatusProcessing), ageMinutes,
	)
	if err != nil {
		return wrapDB("requeue", "failed to requeue stalled jobs", err)
	}
	return nil
}

// Ping confirms the schema is reachable by selecting a single row,
// rather than just checking connectivity.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `SELECT id FROM `+TableName+` LIMIT 1`)
	if err != nil {
		return wrapDB("ping", "failed to ping job queue", err)
	}
	rows.Close()
	return rows.Err()
}

// GetJobs lists jobs, optionally filtered by status and/or minimum age
// in days. A row that fails to materialize (invalid status) is
// skipped rather than failing the whole listing.
func GetJobs(ctx context.Context, pool *pgxpool.Pool, statuses []JobStatus, ageDays *int64) ([]*Job, error) {
	query := `SELECT id, name, task_data, status, run_at, interval, tags, created_at, updated_at FROM ` + TableName + ` WHERE true`
	args := []any{}
	if len(statuses) > 0 {
		args = append(args, statusStrings(statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if ageDays != nil {
		args = append(args, *ageDays)
		query += fmt.Sprintf(` AND created_at <= NOW() - ($%d * INTERVAL '1 day')`, len(args))
	}
	query += ` ORDER BY run_at ASC`

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapDB("get_jobs", "failed to list jobs", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			// invalid status or similar materialization failure: skip the row
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func statusStrings(statuses []JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
