// Package adminapi exposes the queue's maintenance operations over
// HTTP for operators, behind JWT authentication and a casbin policy
// check. The core queue package exposes no CLI or wire protocol
// itself; this is a consumer of its programmatic API, routed through
// httprouter the way the rest of this codebase does.
package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/julienschmidt/httprouter"

	"github.com/KevTiv/pgqueue/pkg/audit"
	"github.com/KevTiv/pgqueue/pkg/policy"
	"github.com/KevTiv/pgqueue/pkg/queue"
)

// Server is the maintenance HTTP surface. It holds only what it needs
// to call the core API and authorize the caller; it has no knowledge
// of job handlers.
type Server struct {
	pool      *pgxpool.Pool
	policy    *policy.Engine
	audit     audit.Logger
	jwtSecret []byte
	logger    *slog.Logger
	router    *httprouter.Router
}

// NewServer wires routes for the maintenance operations onto an
// httprouter.Router, guarded by JWT auth and a casbin policy check
// performed through policy.Engine (a CasbinEnforcer uses
// github.com/pckhoi/casbin-pgx-adapter/v2 over its own connection, not
// this pool — see pkg/policy/casbin.go). Every call that authenticates
// and gets a policy decision is recorded through auditLogger, allowed
// or denied; calls rejected with 401, calls whose policy check errors,
// and /ping are not recorded.
func NewServer(pool *pgxpool.Pool, policyEngine *policy.Engine, auditLogger audit.Logger, jwtSecret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pool: pool, policy: policyEngine, audit: auditLogger, jwtSecret: jwtSecret, logger: logger}
	s.router = httprouter.New()
	s.router.GET("/jobs", s.authorize("jobs", "read", s.handleListJobs))
	s.router.GET("/ping", s.handlePing)
	s.router.POST("/jobs/cancel/:name", s.authorize("jobs", "cancel", s.handleCancelByName))
	s.router.POST("/jobs/requeue", s.authorize("jobs", "requeue", s.handleRequeue))
	s.router.DELETE("/jobs", s.authorize("jobs", "clear", s.handleClear))
	s.router.DELETE("/jobs/by-status", s.authorize("jobs", "clear", s.handleClearByStatus))
	s.router.DELETE("/jobs/older-than", s.authorize("jobs", "clear", s.handleClearOlderThan))
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// claims is the minimal set of JWT claims the admin API requires: a
// subject identifying the operator for casbin's subject argument.
type claims struct {
	jwt.RegisteredClaims
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return "", &queue.Error{Code: "unauthenticated", Message: "missing bearer token"}
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", &queue.Error{Code: "unauthenticated", Message: "invalid bearer token", Err: err}
	}
	c := parsed.Claims.(*claims)
	return c.Subject, nil
}

// authorize wraps a handler with JWT authentication followed by a
// casbin permission check (subject, object, action), auditing the
// outcome either way.
func (s *Server) authorize(object, action string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		subject, err := s.authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		allowed, err := s.policy.CheckPermission(r.Context(), subject, object, action)
		if err != nil {
			s.logger.Error("policy check failed", "error", err, "subject", subject, "object", object, "action", action)
			http.Error(w, "policy check failed", http.StatusInternalServerError)
			return
		}
		s.recordAudit(r.Context(), subject, action, object, allowed)
		if !allowed {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) recordAudit(ctx context.Context, subject, operation, target string, allowed bool) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogOperation(ctx, subject, operation, target, allowed, ""); err != nil {
		s.logger.Warn("failed to record audit entry", "error", err)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := queue.Ping(r.Context(), s.pool); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var statuses []queue.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := queue.ParseJobStatus(strings.TrimSpace(part))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			statuses = append(statuses, st)
		}
	}

	var ageDays *int64
	if raw := r.URL.Query().Get("age_days"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid age_days", http.StatusBadRequest)
			return
		}
		ageDays = &v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	jobs, err := queue.GetJobs(ctx, s.pool, statuses, ageDays)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, jobs)
}

func (s *Server) handleCancelByName(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := queue.CancelByName(r.Context(), s.pool, ps.ByName("name")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ageMinutes, err := strconv.ParseInt(r.URL.Query().Get("age_minutes"), 10, 64)
	if err != nil {
		http.Error(w, "invalid age_minutes", http.StatusBadRequest)
		return
	}
	if err := queue.Requeue(r.Context(), s.pool, ageMinutes); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := queue.Clear(r.Context(), s.pool); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearByStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		http.Error(w, "status query parameter is required", http.StatusBadRequest)
		return
	}
	var statuses []queue.JobStatus
	for _, part := range strings.Split(raw, ",") {
		st, err := queue.ParseJobStatus(strings.TrimSpace(part))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		statuses = append(statuses, st)
	}
	if err := queue.ClearByStatus(r.Context(), s.pool, statuses); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearOlderThan(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ageDays, err := strconv.ParseInt(r.URL.Query().Get("age_days"), 10, 64)
	if err != nil {
		http.Error(w, "invalid age_days", http.StatusBadRequest)
		return
	}
	var statuses []queue.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := queue.ParseJobStatus(strings.TrimSpace(part))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			statuses = append(statuses, st)
		}
	}
	if err := queue.ClearOlderThan(r.Context(), s.pool, ageDays, statuses); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
