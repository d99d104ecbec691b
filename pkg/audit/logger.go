package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger records maintenance-operation outcomes.
type Logger interface {
	LogOperation(ctx context.Context, subject, operation, target string, allowed bool, detail string) error
}

// RepositoryLogger implements Logger against a Repository.
type RepositoryLogger struct {
	repository Repository
}

// NewRepositoryLogger builds a Logger backed by repository.
func NewRepositoryLogger(repository Repository) *RepositoryLogger {
	return &RepositoryLogger{repository: repository}
}

// LogOperation records one maintenance-API call.
func (l *RepositoryLogger) LogOperation(ctx context.Context, subject, operation, target string, allowed bool, detail string) error {
	entry := &Entry{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Subject:   subject,
		Operation: operation,
		Target:    target,
		Allowed:   allowed,
		Detail:    detail,
	}
	return l.repository.Create(ctx, entry)
}
