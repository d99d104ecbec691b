// Package audit records every maintenance operation performed through
// pkg/adminapi, so an operator's cancel/clear/requeue calls against
// the queue leave a durable trail. This is a flattened descendant of
// a per-table RBAC audit log (UserID, OrganizationID, Table): this
// queue has one table and no tenants, so the record is reduced to who
// called which maintenance operation against which target.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded maintenance-API call.
type Entry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Subject   string    `json:"subject" db:"subject"`
	Operation string    `json:"operation" db:"operation"`
	Target    string    `json:"target" db:"target"`
	Allowed   bool      `json:"allowed" db:"allowed"`
	Detail    string    `json:"detail" db:"detail"`
}

// Filter restricts Find/Count to matching entries.
type Filter struct {
	Subject   *string
	Operation *string
	Allowed   *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     *int
}

// Repository stores and queries audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	Find(ctx context.Context, filter *Filter) ([]*Entry, error)
	Count(ctx context.Context, filter *Filter) (int, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}
