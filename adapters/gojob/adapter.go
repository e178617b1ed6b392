package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-apps/core"
)

const (
	JobIDScheduledTick = "apps.scheduled.tick"

	paramTick    = "tick"
	paramAttempt = "attempt"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// TickMessage builds the execution message for one scheduler tick. Ticks
// are deduplicated per minute so replicas enqueueing the same minute only
// run it once.
func TickMessage(tick time.Time) *job.ExecutionMessage {
	tick = tick.UTC().Truncate(time.Minute)
	return &job.ExecutionMessage{
		JobID:          JobIDScheduledTick,
		ScriptPath:     JobIDScheduledTick,
		Parameters:     map[string]any{paramTick: tick.Format(time.RFC3339)},
		IdempotencyKey: JobIDScheduledTick + ":" + tick.Format(time.RFC3339),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// TickFromMessage extracts the tick and the retry attempt of a message.
func TickFromMessage(msg *job.ExecutionMessage) (time.Time, int, error) {
	if msg == nil {
		return time.Time{}, 0, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDScheduledTick {
		return time.Time{}, 0, fmt.Errorf("gojob: unexpected job %q", msg.JobID)
	}
	raw, _ := msg.Parameters[paramTick].(string)
	tick, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("gojob: invalid tick parameter: %w", err)
	}
	return tick.UTC(), attemptFrom(msg.Parameters[paramAttempt]), nil
}

func attemptFrom(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}

type TickEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewTickEnqueuer(enqueuer queue.Enqueuer) *TickEnqueuer {
	return &TickEnqueuer{enqueuer: enqueuer}
}

func (a *TickEnqueuer) Enqueue(ctx context.Context, tick time.Time) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if tick.IsZero() {
		return fmt.Errorf("gojob: tick is required")
	}
	return a.enqueuer.Enqueue(ctx, TickMessage(tick))
}

type SchedulerService interface {
	RunScheduled(ctx context.Context, tick time.Time) (core.ScheduledRunResult, error)
}

type TickWorker struct {
	dequeuer queue.Dequeuer
	service  SchedulerService
	policy   RetryPolicy
	hook     worker.Hook
	logger   core.Logger
	now      func() time.Time
}

type TickWorkerOption func(*TickWorker)

func WithRetryPolicy(policy RetryPolicy) TickWorkerOption {
	return func(w *TickWorker) { w.policy = policy }
}

func WithWorkerHook(hook worker.Hook) TickWorkerOption {
	return func(w *TickWorker) { w.hook = hook }
}

func WithLogger(logger core.Logger) TickWorkerOption {
	return func(w *TickWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewTickWorker(dequeuer queue.Dequeuer, service SchedulerService, opts ...TickWorkerOption) *TickWorker {
	w := &TickWorker{
		dequeuer: dequeuer,
		service:  service,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// ProcessNext dequeues one tick and runs it. A run that invoked at least
// one app is acknowledged even on partial failure; per app failures live on
// the app status.
func (w *TickWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.service == nil {
		return fmt.Errorf("gojob: tick worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	tick, attempt, err := TickFromMessage(msg)
	if err != nil {
		return delivery.Nack(ctx, w.policy.NormalizeAttempt(queue.NackOptions{DeadLetter: true, Reason: err.Error()}, attempt))
	}

	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}

	result, runErr := w.service.RunScheduled(ctx, tick)
	event.Duration = w.now().Sub(startedAt)
	event.Err = runErr
	if runErr != nil && result.Invoked == 0 {
		if w.hook != nil {
			w.hook.OnRetry(ctx, event)
		}
		if w.logger != nil {
			w.logger.Warn("scheduled tick failed", "tick", tick.Format(time.RFC3339), "attempt", attempt, "error", runErr)
		}
		return delivery.Nack(ctx, w.policy.NormalizeAttempt(queue.NackOptions{Requeue: true, Reason: runErr.Error()}, attempt+1))
	}

	if w.hook != nil {
		if runErr != nil {
			w.hook.OnFailure(ctx, event)
		} else {
			w.hook.OnSuccess(ctx, event)
		}
	}
	return delivery.Ack(ctx)
}

var _ SchedulerService = (*core.Service)(nil)
