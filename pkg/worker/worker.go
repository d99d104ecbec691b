// Package worker implements the dispatch loop and worker pool
// implements the dispatch loop: N long-lived tasks that poll the queue,
// claim jobs, dispatch them to registered handlers, and record
// outcomes, cooperating with a shared cancellation signal. This is
// generalized from a per-job-type ticker loop to the claim-transaction
// based dispatch the queue package implements.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevTiv/pgqueue/pkg/email"
	"github.com/KevTiv/pgqueue/pkg/events"
	"github.com/KevTiv/pgqueue/pkg/queue"
)

// Options configures the pool: how many long-lived worker tasks to
// spawn, how long an idle worker waits between polls, and its tag
// filter.
type Options struct {
	NumWorkers   int
	PollInterval time.Duration
	Tags         []string
	Logger       *slog.Logger
	// EventBus, if set, receives "job.claimed", "job.completed",
	// "job.failed" notifications — an observability extension beyond
	// the core contract.
	EventBus *events.Bus
	// Notifier, if set, is sent one email per job that exhausts its
	// handler with an error, addressed to AlertTo.
	Notifier email.Service
	AlertTo  []string
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return 5 * time.Second
	}
	return o.PollInterval
}

// Handle lets the caller observe a single worker task's lifetime.
type Handle struct {
	ID   string
	done chan struct{}
}

// Wait blocks until the worker task this handle belongs to has exited.
func (h *Handle) Wait() {
	<-h.done
}

// Pool is the set of handles returned by Run, letting the caller await
// every worker's exit after cancelling.
type Pool struct {
	Handles []*Handle
}

// Wait blocks until every worker in the pool has exited.
func (p *Pool) Wait() {
	var wg sync.WaitGroup
	for _, h := range p.Handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.Wait()
		}(h)
	}
	wg.Wait()
}

// Run spawns opts.NumWorkers independent worker tasks against pool,
// dispatching claimed jobs to registry. ctx being cancelled is the
// pool's shutdown signal; Run returns immediately with the pool
// handles, it does not block.
func Run(ctx context.Context, pool *pgxpool.Pool, registry *queue.Registry, opts Options) *Pool {
	n := opts.NumWorkers
	if n <= 0 {
		n = 1
	}

	p := &Pool{Handles: make([]*Handle, 0, n)}
	for i := 0; i < n; i++ {
		h := &Handle{ID: uuid.NewString(), done: make(chan struct{})}
		p.Handles = append(p.Handles, h)
		go func(h *Handle) {
			defer close(h.done)
			loop(ctx, pool, registry, opts, h.ID)
		}(h)
	}
	return p
}

// loop is a single worker task's body: claim, dispatch, repeat,
// stopping promptly on cancellation.
func loop(ctx context.Context, pool *pgxpool.Pool, registry *queue.Registry, opts Options, workerID string) {
	log := opts.logger().With("worker_id", workerID)
	log.Info("worker starting")

	for {
		if ctx.Err() != nil {
			log.Info("cancellation received, stopping worker")
			return
		}

		job, err := queue.Claim(ctx, pool, opts.Tags)
		if err != nil {
			log.Warn("failed to claim job", "error", err)
			job = nil
		}

		if job == nil {
			// No job claimed: sleep for the poll interval, but let
			// cancellation abort the sleep immediately. select itself has
			// no priority; if the timer wins a race with cancellation, the
			// ctx.Err() check at the top of the loop stops the worker
			// before another claim.
			timer := time.NewTimer(opts.pollInterval())
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info("cancellation received during sleep, stopping worker")
				return
			case <-timer.C:
			}
			continue
		}

		dispatch(ctx, pool, registry, opts, workerID, job)
		// Deliberately no sleep here: burst-drain consecutive available jobs.
	}
}

// dispatch runs one claimed job to completion: lookup, invoke under
// panic isolation (via registry.Invoke), and record the outcome.
func dispatch(ctx context.Context, pool *pgxpool.Pool, registry *queue.Registry, opts Options, workerID string, job *queue.Job) {
	log := opts.logger().With("worker_id", workerID, "job_id", job.ID, "job_name", job.Name)
	log.Debug("dispatching claimed job")
	publish(ctx, opts.EventBus, "job.claimed", job)

	if !registry.Lookup(job.Name) {
		// No handler: leave the row in Processing. It is recovered by
		// the orphan-recovery sweep (Requeue).
		log.Warn("no handler registered for job, leaving processing for orphan recovery", "suggestion", registry.MissingHandlerHint(job.Name))
		return
	}

	err := registry.Invoke(ctx, job)
	if err != nil {
		if failErr := queue.Fail(ctx, pool, job.ID, err); failErr != nil {
			log.Error("failed to mark job failed", "error", failErr)
		} else {
			log.Info("job failed", "error", err)
			publish(ctx, opts.EventBus, "job.failed", job)
			notifyFailure(ctx, opts, job, err, log)
		}
		return
	}

	if completeErr := queue.Complete(ctx, pool, job.ID, job.Interval); completeErr != nil {
		log.Error("failed to mark job completed", "error", completeErr)
		return
	}
	log.Info("job completed")
	publish(ctx, opts.EventBus, "job.completed", job)
}

func publish(ctx context.Context, bus *events.Bus, eventType string, job *queue.Job) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ctx, eventType, job)
}

// notifyFailure sends a best-effort alert email when a job exhausts
// its handler with an error. Delivery failures are logged, not
// returned: a broken mail transport must not affect job outcomes.
func notifyFailure(ctx context.Context, opts Options, job *queue.Job, cause error, log *slog.Logger) {
	if opts.Notifier == nil || len(opts.AlertTo) == 0 {
		return
	}
	msg := &email.Email{
		To:      opts.AlertTo,
		Subject: fmt.Sprintf("job failed: %s", job.Name),
		Body:    fmt.Sprintf("job %s (%s) failed: %v", job.ID, job.Name, cause),
	}
	if err := opts.Notifier.Send(ctx, msg); err != nil {
		log.Warn("failed to send failure notification", "error", err)
	}
}
