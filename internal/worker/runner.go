package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docrag/internal/logger"
	"docrag/internal/queue"
	"docrag/internal/task"
)

const DefaultTaskTimeout = 1800 * time.Second

type StatusReporter interface {
	ReportStatus(ctx context.Context, taskID string, status queue.Status, result any)
}

type DeadLetter interface {
	Record(ctx context.Context, t *task.Task, reason string) error
}

type Runner struct {
	registry *Registry
	notifier *Notifier
	timeout  time.Duration
	status   StatusReporter
	dead     DeadLetter
}

type RunnerOption func(*Runner)

func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithStatusReporter(s StatusReporter) RunnerOption {
	return func(r *Runner) { r.status = s }
}

// WithDeadLetter stores failed tasks for later retry.
func WithDeadLetter(d DeadLetter) RunnerOption {
	return func(r *Runner) { r.dead = d }
}

func WithNotifier(n *Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

func NewRunner(registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{registry: registry, notifier: NewNotifier(), timeout: DefaultTaskTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a single encoded task and returns the process exit code:
// 0 when the task completed, 1 otherwise.
func (r *Runner) Run(ctx context.Context, raw string) int {
	t, err := task.ParseEnvelope(raw)
	if err != nil {
		slog.ErrorContext(ctx, "invalid task data", "error", err)
		return 1
	}
	if r.Process(ctx, t).Status != StatusCompleted {
		return 1
	}
	return 0
}

// Process dispatches t and delivers the result: webhook, status report and
// dead-letter. Delivery failures are logged only.
func (r *Runner) Process(ctx context.Context, t *task.Task) Result {
	ctx = logger.WithCorrelationID(ctx, t.ID)
	slog.InfoContext(ctx, "processing task", "task_id", t.ID, "task_type", t.Type)

	if r.status != nil {
		r.status.ReportStatus(ctx, t.ID, queue.StatusProcessing, nil)
	}

	start := time.Now()
	res := r.Dispatch(ctx, t)
	slog.InfoContext(ctx, "task finished", "task_id", t.ID, "status", res.Status, "duration", time.Since(start))

	r.deliver(ctx, t, res)
	return res
}

// Dispatch runs the handler for t under the task timeout. On timeout the
// handler goroutine is abandoned.
func (r *Runner) Dispatch(ctx context.Context, t *task.Task) Result {
	h, ok := r.registry.Lookup(t.Type)
	if !ok {
		slog.WarnContext(ctx, "unknown task type", "task_type", t.Type)
		return Failed(fmt.Sprintf("Unknown task type: %s", t.Type))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.ErrorContext(ctx, "handler panicked", "task_id", t.ID, "panic", p)
				done <- Failed(fmt.Sprintf("handler panicked: %v", p))
			}
		}()
		done <- h.Execute(ctx, t.Payload)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		msg := fmt.Sprintf("Task exceeded timeout of %g seconds", r.timeout.Seconds())
		slog.ErrorContext(ctx, "task timed out", "task_id", t.ID, "error", ErrTaskTimeout)
		return Failed(msg)
	}
}

func (r *Runner) deliver(ctx context.Context, t *task.Task, res Result) {
	if t.WebhookURL != "" && r.notifier != nil {
		err := r.notifier.Notify(ctx, t.WebhookURL, Notification{
			TaskID:   t.ID,
			TaskType: string(t.Type),
			Status:   res.Status,
			Result:   res.Result,
			Error:    res.Error,
		})
		if err != nil {
			slog.WarnContext(ctx, "webhook failed", "url", t.WebhookURL, "error", err)
		}
	}

	if r.status != nil {
		status := queue.StatusCompleted
		var result any = res.Result
		if res.Status != StatusCompleted {
			status = queue.StatusFailed
			result = res.Error
		}
		r.status.ReportStatus(ctx, t.ID, status, result)
	}

	if res.Status != StatusCompleted && r.dead != nil {
		if err := r.dead.Record(ctx, t, res.Error); err != nil {
			slog.ErrorContext(ctx, "failed to save failed job", "task_id", t.ID, "error", err)
		}
	}
}
