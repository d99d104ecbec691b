// Package queue implements a durable, PostgreSQL-backed job queue: a
// single table holding every job, a row-lock claim protocol that hands
// one due job to one worker at a time, and the lifecycle transitions
// that move a job through Queued, Processing, Completed, Failed and
// Cancelled.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a Job. It is stored and compared
// as its lowercase textual name.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// ParseJobStatus parses the textual form of a status as stored in the
// database. An unknown value is an error: the row materializer and
// the claim path both surface this rather than silently coercing it.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch JobStatus(raw) {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return JobStatus(raw), nil
	default:
		return "", &Error{Code: "invalid_status", Message: fmt.Sprintf("unsupported job status %q", raw), Err: ErrInvalidStatus}
	}
}

// Job is the single persisted entity. The database row is the source
// of truth; a Job value held by a worker is a snapshot valid only for
// the duration of handler execution.
type Job struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Data      json.RawMessage `db:"task_data" json:"data"`
	Status    JobStatus       `db:"status" json:"status"`
	RunAt     time.Time       `db:"run_at" json:"run_at"`
	Interval  *int64          `db:"interval" json:"interval,omitempty"` // milliseconds
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
	Tags      []string        `db:"tags" json:"tags,omitempty"`
}

// IsPeriodic reports whether the job reschedules itself on completion
// rather than becoming terminal.
func (j *Job) IsPeriodic() bool {
	return j.Interval != nil
}

// normalizeTags applies the tag normalization rule: a decoded empty
// array (or anything that is not a JSON array of strings) becomes an
// absent tag set.
func normalizeTags(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		// Not a JSON array of strings; treat as untagged rather than failing
		// the whole row.
		return nil, nil
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}

func marshalTags(tags []string) ([]byte, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	return json.Marshal(tags)
}
