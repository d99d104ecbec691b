//go:build integration

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startTestPool spins up a disposable Postgres container and returns a
// connected, schema-initialized pool. Run with `go test -tags=integration`.
func startTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pgqueue_test"),
		tcpostgres.WithUsername("pgqueue"),
		tcpostgres.WithPassword("pgqueue"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, PoolConfig{URI: dsn, MaxConnections: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, InitializeDatabase(ctx, pool))
	return pool
}

func TestClaimAssignsJobExactlyOnce(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	id, err := Enqueue(ctx, p, "send_email", map[string]string{"to": "a@example.com"}, time.Now(), nil, nil)
	require.NoError(t, err)

	results := make(chan *Job, 4)
	for i := 0; i < 4; i++ {
		go func() {
			job, err := Claim(ctx, p, nil)
			require.NoError(t, err)
			results <- job
		}()
	}

	var claimed int
	for i := 0; i < 4; i++ {
		if job := <-results; job != nil {
			claimed++
			require.Equal(t, id, job.ID)
		}
	}
	require.Equal(t, 1, claimed)
}

func TestTagRoutingExcludesMismatchedWorkers(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	_, err := Enqueue(ctx, p, "send_sms", map[string]string{}, time.Now(), nil, []string{"priority"})
	require.NoError(t, err)

	job, err := Claim(ctx, p, nil)
	require.NoError(t, err)
	require.Nil(t, job, "untagged worker must not claim a tagged job")

	job, err = Claim(ctx, p, []string{"priority"})
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestCompletePeriodicReschedules(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	interval := 50 * time.Millisecond
	id, err := Enqueue(ctx, p, "heartbeat", map[string]string{}, time.Now(), &interval, nil)
	require.NoError(t, err)

	job, err := Claim(ctx, p, nil)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, Complete(ctx, p, job.ID, job.Interval))

	jobs, err := GetJobs(ctx, p, []JobStatus{StatusQueued}, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].ID)
}

func TestRequeueReclaimsStalledJob(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	id, err := Enqueue(ctx, p, "stalled", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)

	_, err = Claim(ctx, p, nil)
	require.NoError(t, err)

	_, err = p.Exec(ctx, `UPDATE `+TableName+` SET updated_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, id)
	require.NoError(t, err)

	require.NoError(t, Requeue(ctx, p, 10))

	jobs, err := GetJobs(ctx, p, []JobStatus{StatusQueued}, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].ID)
}

func TestClearDeletesAllRows(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	_, err := Enqueue(ctx, p, "one", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)
	_, err = Enqueue(ctx, p, "two", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, Clear(ctx, p))

	jobs, err := GetJobs(ctx, p, nil, nil)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestClearOlderThanRespectsStatusFilter(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	seed := func(age time.Duration, status JobStatus) string {
		id, err := Enqueue(ctx, p, "aged", map[string]string{}, time.Now(), nil, nil)
		require.NoError(t, err)
		_, err = p.Exec(ctx,
			`UPDATE `+TableName+` SET created_at = NOW() - $1, status = $2 WHERE id = $3`,
			age, string(status), id,
		)
		require.NoError(t, err)
		return id
	}

	old := seed(20*24*time.Hour, StatusCompleted)
	keptFailed := seed(15*24*time.Hour, StatusFailed)
	keptRecentCompleted := seed(5*24*time.Hour, StatusCompleted)
	keptFresh := seed(0, StatusCancelled)

	require.NoError(t, ClearOlderThan(ctx, p, 10, []JobStatus{StatusCancelled, StatusCompleted}))

	jobs, err := GetJobs(ctx, p, nil, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	var remaining []string
	for _, j := range jobs {
		remaining = append(remaining, j.ID)
	}
	require.NotContains(t, remaining, old)
	require.Contains(t, remaining, keptFailed)
	require.Contains(t, remaining, keptRecentCompleted)
	require.Contains(t, remaining, keptFresh)
}

func TestFailMergesErrorIntoTaskData(t *testing.T) {
	p := startTestPool(t)
	ctx := context.Background()

	id, err := Enqueue(ctx, p, "broken", map[string]string{"k": "v"}, time.Now(), nil, nil)
	require.NoError(t, err)

	job, err := Claim(ctx, p, nil)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	require.NoError(t, Fail(ctx, p, id, errors.New("boom")))

	jobs, err := GetJobs(ctx, p, []JobStatus{StatusFailed}, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Contains(t, string(jobs[0].Data), "boom")
}
