// Command pgqueue-demo is a composition-root example wiring the queue
// core, a worker pool, and the admin HTTP API together, in the style
// of earlier composition-root examples in this codebase.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/KevTiv/pgqueue/pkg/adminapi"
	"github.com/KevTiv/pgqueue/pkg/audit"
	"github.com/KevTiv/pgqueue/pkg/events"
	"github.com/KevTiv/pgqueue/pkg/policy"
	"github.com/KevTiv/pgqueue/pkg/queue"
	"github.com/KevTiv/pgqueue/pkg/worker"
)

// runProfile is the demo's YAML-configured run profile, the config
// surface, instead of reading flags directly out of the environment.
type runProfile struct {
	DatabaseURL    string   `yaml:"database_url"`
	NumWorkers     int      `yaml:"num_workers"`
	PollIntervalMS int      `yaml:"poll_interval_ms"`
	Tags           []string `yaml:"tags"`
	AdminAddr      string   `yaml:"admin_addr"`
	JWTSecret      string   `yaml:"jwt_secret"`
}

func loadProfile(path string) (runProfile, error) {
	var p runProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// emailArgs is an example job payload for a notification-sending job,
// registered below purely to demonstrate RegisterWorker.
type emailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	logger := slog.Default()

	profilePath := os.Getenv("PGQUEUE_PROFILE")
	if profilePath == "" {
		profilePath = "pgqueue.yaml"
	}
	profile, err := loadProfile(profilePath)
	if err != nil {
		logger.Error("failed to load run profile", "path", profilePath, "error", err)
		os.Exit(1)
	}
	if profile.DatabaseURL == "" {
		profile.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := queue.NewProvider(ctx, queue.PoolConfig{
		URI:              profile.DatabaseURL,
		MinConnections:   1,
		MaxConnections:   10,
		StatementLogging: false,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	if err := queue.InitializeDatabase(ctx, provider.Pool); err != nil {
		logger.Error("failed to initialize queue schema", "error", err)
		os.Exit(1)
	}

	if err := queue.RegisterWorker(provider.Registry, "send_email", queue.WorkerFunc[emailArgs](func(ctx context.Context, args emailArgs) error {
		logger.Info("sending demo email", "to", args.To, "subject", args.Subject)
		return nil
	})); err != nil {
		logger.Error("failed to register handler", "error", err)
		os.Exit(1)
	}
	provider.Registry.Snapshot()

	bus := events.NewBus(true)
	bus.Subscribe("job.failed", func(ctx context.Context, event events.Event) error {
		logger.Warn("job failed, notify on-call", "payload", event.Payload)
		return nil
	})

	pool := worker.Run(ctx, provider.Pool, provider.Registry, worker.Options{
		NumWorkers:   profile.NumWorkers,
		PollInterval: time.Duration(profile.PollIntervalMS) * time.Millisecond,
		Tags:         profile.Tags,
		Logger:       logger,
		EventBus:     bus,
	})

	var casbinEnforcer *policy.CasbinEnforcer
	casbinEnforcer, err = policy.NewCasbinEnforcer(profile.DatabaseURL, "")
	if err != nil {
		logger.Error("failed to create policy enforcer", "error", err)
		os.Exit(1)
	}
	policyEngine := policy.NewEngine(casbinEnforcer)

	auditLogger := audit.NewRepositoryLogger(audit.NewMemoryRepository())
	admin := adminapi.NewServer(provider.Pool, policyEngine, auditLogger, []byte(profile.JWTSecret), logger)
	httpServer := &http.Server{Addr: profile.AdminAddr, Handler: admin.Handler()}
	go func() {
		logger.Info("admin api listening", "addr", profile.AdminAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining workers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	pool.Wait()
	logger.Info("all workers stopped, exiting")
}
