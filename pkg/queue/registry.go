package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Worker is user code that performs a named job. Args is the
// handler-specific payload type; it must round-trip through
// encoding/json.
type Worker[Args any] interface {
	Perform(ctx context.Context, args Args) error
}

// WorkerFunc adapts a plain function to the Worker interface, the
// functional-handler convenience of registering a closure directly.
type WorkerFunc[Args any] func(ctx context.Context, args Args) error

func (f WorkerFunc[Args]) Perform(ctx context.Context, args Args) error {
	return f(ctx, args)
}

// handlerFunc is the type-erased form stored in the registry: given a
// job id and its raw JSON payload, deserialize, invoke under panic
// isolation, and return the outcome.
type handlerFunc func(ctx context.Context, jobID string, data json.RawMessage) error

// Registry is a process-local mapping from job name to handler.
// Registration is one-time during setup; call Snapshot to take the
// read-only view workers dispatch against once they start.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	shared   bool

	// PayloadStore, if set, resolves offloaded payloads (see
	// pkg/queue/payload.go) before a handler sees job.Data.
	PayloadStore *PayloadStore
}

// NewRegistry returns an empty, still-mutable registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]handlerFunc)}
}

// RegisterWorker registers a handler under name. Re-registering the
// same name is allowed (idempotent replacement) as long as the
// registry has not yet been shared with running workers; after that
// it is rejected.
func RegisterWorker[Args any](r *Registry, name string, w Worker[Args]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shared {
		if _, exists := r.handlers[name]; exists {
			return &Error{Code: "duplicate_handler", Message: fmt.Sprintf("handler %q already registered and registry is shared", name), Err: ErrAlreadyShared}
		}
	}

	r.handlers[name] = func(ctx context.Context, jobID string, data json.RawMessage) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = &Error{Code: "handler_panic", Message: panicMessage(rec), Err: ErrHandlerPanic}
			}
		}()

		var args Args
		if len(data) > 0 {
			if decodeErr := json.Unmarshal(data, &args); decodeErr != nil {
				return &Error{Code: "deserialize_payload", Message: "failed to deserialize job payload", Err: decodeErr}
			}
		}
		return w.Perform(ctx, args)
	}
	return nil
}

// panicMessage derives a message from an arbitrary recovered value,
// a typed message if available, otherwise a generic string.
func panicMessage(rec any) string {
	switch v := rec.(type) {
	case error:
		return v.Error()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return "unknown panic occurred"
	}
}

// Snapshot freezes the registry: subsequent RegisterWorker calls with
// a name already present fail. Workers dispatch against the returned
// handle, which shares the same underlying map (read-only from here
// on by convention, since registration has stopped).
func (r *Registry) Snapshot() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared = true
	return r
}

// lookup returns the handler for name and whether it exists.
func (r *Registry) lookup(name string) (handlerFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Lookup reports whether a handler is registered for name, without
// exposing the handler itself, so callers (the worker dispatch loop)
// can distinguish "missing handler" from other invocation failures.
func (r *Registry) Lookup(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// MissingHandlerHint returns the "did you mean" diagnostic the worker
// loop logs when a claimed job names no registered handler.
func (r *Registry) MissingHandlerHint(name string) string {
	return r.missingHandlerMessage(name)
}

// Invoke looks up the handler for job.Name, resolves an offloaded
// payload when PayloadStore is set, deserializes job.Data into the
// handler's argument type and runs it under panic isolation, returning
// success or an error (no handler, payload resolution failure,
// deserialization failure, user error, or recovered panic).
func (r *Registry) Invoke(ctx context.Context, job *Job) error {
	h, ok := r.lookup(job.Name)
	if !ok {
		return &Error{Code: "no_handler", Message: r.missingHandlerMessage(job.Name), Err: ErrNoHandler}
	}

	data := job.Data
	if r.PayloadStore != nil {
		resolved, err := r.PayloadStore.Resolve(ctx, job.Data)
		if err != nil {
			return err
		}
		data = resolved
	}

	return h(ctx, job.ID, data)
}

// missingHandlerMessage appends a "did you mean" suggestion computed
// via Levenshtein distance against registered names, to make a
// misconfigured deployment easy to spot in logs.
func (r *Registry) missingHandlerMessage(name string) string {
	msg := fmt.Sprintf("no handler registered for job name %q", name)
	if suggestion, ok := r.suggest(name); ok {
		msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
	}
	return msg
}

func (r *Registry) suggest(name string) (string, bool) {
	r.mu.Lock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	r.mu.Unlock()

	sort.Strings(names) // deterministic tie-break
	if len(names) == 0 {
		return "", false
	}

	best := ""
	bestDist := -1
	target := []rune(name)
	for _, candidate := range names {
		d := levenshtein.DistanceForStrings(target, []rune(candidate), levenshtein.DefaultOptions)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	// Only suggest names that are plausibly a typo, not an unrelated name.
	if bestDist > len(name)/2+2 {
		return "", false
	}
	return best, true
}

// Names returns the currently registered handler names, for
// diagnostics and tests.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
