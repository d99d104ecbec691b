// Package report provides read-only reporting over the job queue: a
// sqlx-backed listing path and an .xlsx export, adapted from the
// teacher's pkg/database permission-aware wrapper idea (simplified —
// reporting is read-only and has no write permission model to
// enforce) and from the Job struct's existing `db` tags in
// pkg/queue.Job.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/xuri/excelize/v2"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/KevTiv/pgqueue/pkg/queue"
)

// Reader wraps a sqlx.DB scoped to the job queue table for reporting
// queries that are more naturally expressed as struct scans than the
// hand-rolled pgx row scanning in pkg/queue.
type Reader struct {
	db *sqlx.DB
}

// Open connects a sqlx.DB against dsn using the pgx stdlib driver, so
// reporting shares the same wire protocol as the core claim/transition
// path without sharing its pgxpool.
func Open(dsn string) (*Reader, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: failed to open reporting connection: %w", err)
	}
	return &Reader{db: db}, nil
}

// Close releases the underlying connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// jobRow mirrors queue.Job's db tags for sqlx.StructScan; task_data
// and tags are scanned as raw bytes since they are JSON(B) columns.
type jobRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	TaskData  []byte    `db:"task_data"`
	Status    string    `db:"status"`
	RunAt     time.Time `db:"run_at"`
	Interval  *int64    `db:"interval"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	Tags      []byte    `db:"tags"`
}

// ListJobs runs the same filtered listing as queue.GetJobs but through
// sqlx struct scanning, for callers that already depend on sqlx
// elsewhere (e.g. an admin reporting service sharing a connection
// pool with other sqlx-based repositories).
func (r *Reader) ListJobs(ctx context.Context, statuses []queue.JobStatus, ageDays *int64) ([]*queue.Job, error) {
	q := `SELECT id, name, task_data, status, run_at, interval, tags, created_at, updated_at FROM ` + queue.TableName + ` WHERE true`
	args := []any{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		args = append(args, namesArray(names))
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if ageDays != nil {
		args = append(args, *ageDays)
		q += fmt.Sprintf(" AND created_at <= NOW() - ($%d * INTERVAL '1 day')", len(args))
	}
	q += " ORDER BY run_at ASC"

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("report: failed to list jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(rows))
	for _, row := range rows {
		status, err := queue.ParseJobStatus(row.Status)
		if err != nil {
			continue
		}
		// Same normalization as queue.GetJobs: anything but a non-empty
		// JSON array of strings is an absent tag set.
		var tags []string
		if len(row.Tags) > 0 {
			if err := json.Unmarshal(row.Tags, &tags); err != nil || len(tags) == 0 {
				tags = nil
			}
		}
		jobs = append(jobs, &queue.Job{
			ID:        row.ID,
			Name:      row.Name,
			Data:      row.TaskData,
			Status:    status,
			RunAt:     row.RunAt,
			Interval:  row.Interval,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			Tags:      tags,
		})
	}
	return jobs, nil
}

func namesArray(names []string) []string { return names }

// Workbook renders jobs to an in-memory .xlsx workbook, one row per
// job, for operators who want a downloadable audit snapshot of the
// queue rather than a JSON listing.
func Workbook(jobs []*queue.Job) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Jobs"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"ID", "Name", "Status", "RunAt", "CreatedAt", "UpdatedAt", "Interval(ms)"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, job := range jobs {
		row := i + 2
		values := []any{
			job.ID,
			job.Name,
			job.Status.String(),
			job.RunAt.Format(time.RFC3339),
			job.CreatedAt.Format(time.RFC3339),
			job.UpdatedAt.Format(time.RFC3339),
			intervalCell(job.Interval),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	return f, nil
}

func intervalCell(interval *int64) any {
	if interval == nil {
		return ""
	}
	return *interval
}
