//go:build integration

package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/KevTiv/pgqueue/pkg/audit"
	"github.com/KevTiv/pgqueue/pkg/policy"
	"github.com/KevTiv/pgqueue/pkg/queue"
)

func startTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pgqueue_admin_test"),
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

	pool, err := queue.Connect(ctx, queue.PoolConfig{URI: dsn, MaxConnections: 5})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, queue.InitializeDatabase(ctx, pool))
	return pool
}

func newTestServer(t *testing.T) *Server {
	pool := startTestPool(t)
	enforcer, err := policy.NewCasbinEnforcer("", "")
	require.NoError(t, err)
	return NewServer(pool, policy.NewEngine(enforcer), audit.NewRepositoryLogger(audit.NewMemoryRepository()), []byte("secret"), nil)
}

func authedRequest(t *testing.T, s *Server, method, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, s.jwtSecret, "operator"))
	return req
}

func TestHandlePingReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleListAndCancelJobs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	id, err := queue.Enqueue(ctx, s.pool, "send_email", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodGet, "/jobs"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), id)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodPost, "/jobs/cancel/send_email"))
	require.Equal(t, http.StatusNoContent, w.Code)

	jobs, err := queue.GetJobs(ctx, s.pool, []queue.JobStatus{queue.StatusCancelled}, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id, jobs[0].ID)
}

func TestHandleRequeueRequiresAgeMinutes(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodPost, "/jobs/requeue"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodPost, "/jobs/requeue?age_minutes=5"))
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleClearDeletesAllJobs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, s.pool, "send_email", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, s.pool, "send_sms", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodDelete, "/jobs"))
	require.Equal(t, http.StatusNoContent, w.Code)

	jobs, err := queue.GetJobs(ctx, s.pool, nil, nil)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestHandleClearOlderThanRequiresAgeDays(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodDelete, "/jobs/older-than"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	id, err := queue.Enqueue(ctx, s.pool, "aged", map[string]string{}, time.Now(), nil, nil)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `UPDATE `+queue.TableName+` SET created_at = NOW() - INTERVAL '20 days', status = $1 WHERE id = $2`, string(queue.StatusCompleted), id)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodDelete, "/jobs/older-than?age_days=10&status=completed"))
	require.Equal(t, http.StatusNoContent, w.Code)

	jobs, err := queue.GetJobs(ctx, s.pool, nil, nil)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestHandleClearByStatusRequiresStatus(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodDelete, "/jobs/by-status"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, authedRequest(t, s, http.MethodDelete, "/jobs/by-status?status=failed"))
	require.Equal(t, http.StatusNoContent, w.Code)
}
