package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/tracing"
)

// TerminalHook is invoked after a job reaches terminal failure, e.g. to
// publish a dead letter. It must not block the worker for long.
type TerminalHook func(ctx context.Context, j *Job)

// Dispatcher runs a bounded pool of workers that claim jobs from the store
// and execute the handler registered for each job's type. Claim is the only
// mutual-exclusion point; a slow handler never blocks other workers from
// claiming.
type Dispatcher struct {
	store          Store
	registry       *Registry
	workers        int
	pollInterval   time.Duration
	handlerTimeout time.Duration
	logger         *logging.Logger
	terminalHook   TerminalHook

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// DispatcherOpts configures a Dispatcher; zero fields get defaults.
type DispatcherOpts struct {
	Workers        int
	PollInterval   time.Duration
	HandlerTimeout time.Duration
	TerminalHook   TerminalHook
}

func NewDispatcher(store Store, registry *Registry, opts DispatcherOpts) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:          store,
		registry:       registry,
		workers:        opts.Workers,
		pollInterval:   opts.PollInterval,
		handlerTimeout: opts.HandlerTimeout,
		logger:         logging.New("tidehook-dispatcher"),
		terminalHook:   opts.TerminalHook,
		inflight:       make(map[string]context.CancelFunc),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight handlers have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Plain().WithField("workers", d.workers).Info("dispatcher starting")
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.wg.Wait()
	d.logger.Plain().Info("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := d.store.Claim(ctx)
		if err != nil {
			d.logger.Plain().WithField("worker", n).WithError(err).Error("claim failed")
			d.idle(ctx)
			continue
		}
		if j == nil {
			// nothing eligible; idle-wait before polling again
			d.idle(ctx)
			continue
		}
		metrics.RecordClaim(j.Type)
		d.execute(ctx, j)
	}
}

func (d *Dispatcher) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(d.pollInterval):
	}
}

// Abort cancels the context of an in-flight job so the handler can abandon
// outbound work. It is a no-op when the job is not currently executing.
func (d *Dispatcher) Abort(id string) {
	d.mu.Lock()
	cancel, ok := d.inflight[id]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

func (d *Dispatcher) execute(ctx context.Context, j *Job) {
	reg, ok := d.registry.Lookup(j.Type)
	if !ok {
		// handler was deregistered after enqueue; permanent by definition
		d.finishFailure(ctx, j, &HandlerError{Retryable: false, Message: "no handler registered for type " + j.Type})
		return
	}

	ctx, span := tracing.StartSpan(ctx, "dispatcher.execute",
		attribute.String("job_id", j.ID),
		attribute.String("job_type", j.Type),
		attribute.Int("attempt", j.Attempts),
	)
	defer span.End()

	jobCtx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	d.mu.Lock()
	d.inflight[j.ID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, j.ID)
		d.mu.Unlock()
		cancel()
	}()

	type outcome struct {
		result []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := reg.Handler(jobCtx, j)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-jobCtx.Done():
		// free the worker slot; a handler that ignores its context keeps
		// running unobserved but can no longer hold up claims
		out = outcome{err: Retryable("handler timed out after %s", d.handlerTimeout)}
	}

	if out.err == nil {
		if err := d.store.Complete(ctx, j.ID, out.result); err != nil {
			d.logConflict(ctx, j, err, "complete")
			return
		}
		metrics.RecordJobFinished(j.Type, "completed")
		d.logger.WithContext(ctx).WithJob(j.ID).WithJobType(j.Type).
			WithField("attempt", j.Attempts).Info("job completed")
		return
	}
	d.finishFailure(ctx, j, AsHandlerError(out.err))
}

func (d *Dispatcher) finishFailure(ctx context.Context, j *Job, he *HandlerError) {
	tracing.SetSpanError(ctx, he)
	var err error
	if he.Retryable {
		err = d.store.Fail(ctx, j.ID, he.Message)
	} else {
		err = d.store.FailPermanent(ctx, j.ID, he.Message)
	}
	if err != nil {
		d.logConflict(ctx, j, err, "fail")
		return
	}

	after, err := d.store.Get(ctx, j.ID)
	if err != nil {
		d.logger.WithContext(ctx).WithJob(j.ID).WithError(err).Error("read job after failure")
		return
	}
	if after.Status == StatusFailed {
		metrics.RecordJobFinished(j.Type, "failed")
		d.logger.WithContext(ctx).WithJob(j.ID).WithJobType(j.Type).WithFields(map[string]any{
			"attempt":   after.Attempts,
			"retryable": he.Retryable,
		}).WithError(he).Error("job terminally failed")
		if d.terminalHook != nil {
			d.terminalHook(ctx, after)
		}
		return
	}
	metrics.RecordRequeue(j.Type)
	d.logger.WithContext(ctx).WithJob(j.ID).WithJobType(j.Type).WithFields(map[string]any{
		"attempt":          after.Attempts,
		"next_eligible_at": after.NextEligibleAt,
	}).Warn("job requeued")
}

// logConflict downgrades invalid-transition errors after handler completion:
// they mean the job was cancelled out from under the handler, which is an
// expected race, not a defect.
func (d *Dispatcher) logConflict(ctx context.Context, j *Job, err error, op string) {
	if errors.Is(err, ErrInvalidTransition) {
		d.logger.WithContext(ctx).WithJob(j.ID).WithField("op", op).
			Info("job no longer running, outcome discarded")
		return
	}
	d.logger.WithContext(ctx).WithJob(j.ID).WithField("op", op).WithError(err).Error("record outcome failed")
}
