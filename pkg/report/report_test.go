package report

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevTiv/pgqueue/pkg/queue"
)

// textArrayConverter lets []string arguments through, as the pgx stdlib
// driver does when binding the status filter; database/sql's default
// converter would reject them.
type textArrayConverter struct{}

func (textArrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockReader(t *testing.T) (*Reader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.ValueConverterOption(textArrayConverter{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Reader{db: sqlx.NewDb(db, "pgx")}, mock
}

var jobColumns = []string{"id", "name", "task_data", "status", "run_at", "interval", "created_at", "updated_at", "tags"}

func TestListJobsNoFilters(t *testing.T) {
	reader, mock := newMockReader(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, name, task_data, status, run_at, interval, tags, created_at, updated_at FROM pg_loco_queue WHERE true ORDER BY run_at ASC`).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "greet", []byte(`{}`), "queued", now, nil, now, now, nil))

	jobs, err := reader.ListJobs(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, queue.StatusQueued, jobs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsWithStatusAndAgeFilter(t *testing.T) {
	reader, mock := newMockReader(t)
	now := time.Now()
	ageDays := int64(7)

	mock.ExpectQuery(`SELECT .+ FROM pg_loco_queue WHERE true AND status = ANY\(\$1\) AND created_at <= NOW\(\) - \(\$2 \* INTERVAL '1 day'\) ORDER BY run_at ASC`).
		WithArgs(sqlmock.AnyArg(), ageDays).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-2", "send_email", []byte(`{}`), "failed", now, nil, now, now, nil))

	jobs, err := reader.ListJobs(context.Background(), []queue.JobStatus{queue.StatusFailed}, &ageDays)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.StatusFailed, jobs[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsSkipsRowsWithInvalidStatus(t *testing.T) {
	reader, mock := newMockReader(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM pg_loco_queue WHERE true ORDER BY run_at ASC`).
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-3", "greet", []byte(`{}`), "not_a_status", now, nil, now, now, nil).
			AddRow("job-4", "greet", []byte(`{}`), "queued", now, nil, now, now, nil))

	jobs, err := reader.ListJobs(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-4", jobs[0].ID)
}

func TestWorkbookRendersHeaderAndRows(t *testing.T) {
	ms := int64(1000)
	jobs := []*queue.Job{
		{ID: "job-1", Name: "greet", Status: queue.StatusQueued, RunAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now(), Interval: &ms},
		{ID: "job-2", Name: "send_email", Status: queue.StatusCompleted, RunAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}

	f, err := Workbook(jobs)
	require.NoError(t, err)

	header, err := f.GetCellValue("Jobs", "A1")
	require.NoError(t, err)
	assert.Equal(t, "ID", header)

	id, err := f.GetCellValue("Jobs", "A2")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	interval, err := f.GetCellValue("Jobs", "G2")
	require.NoError(t, err)
	assert.Equal(t, "1000", interval)

	noInterval, err := f.GetCellValue("Jobs", "G3")
	require.NoError(t, err)
	assert.Equal(t, "", noInterval)
}
