package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docrag/internal/retry"
	"docrag/internal/task"
)

// Delivery pairs a parsed task with the message that carried it.
type Delivery struct {
	Task    *task.Task
	Message Message
}

type Service struct {
	transport Transport
	policy    retry.Policy
}

type Option func(*Service)

// WithRetryPolicy overrides the default transport retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func NewService(t Transport, opts ...Option) *Service {
	s := &Service{transport: t, policy: retry.QueuePolicy}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubmitOption func(*task.Task)

func WithWebhook(url string) SubmitOption {
	return func(t *task.Task) {
		t.WebhookURL = url
	}
}

// Submit wraps payload in a new task and sends it. It returns the task id.
func (s *Service) Submit(ctx context.Context, typ task.Type, payload any, opts ...SubmitOption) (string, error) {
	t, err := task.New(typ, payload)
	if err != nil {
		return "", err
	}
	for _, opt := range opts {
		opt(t)
	}
	return s.SubmitTask(ctx, t)
}

// SubmitTask sends an already built task. The size ceiling is checked before
// any transport call.
func (s *Service) SubmitTask(ctx context.Context, t *task.Task) (string, error) {
	body, err := task.Encode(t)
	if err != nil {
		return "", err
	}
	if len(body) > MaxMessageSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(body), MaxMessageSize)
	}

	err = retry.Do(ctx, s.policy, "queue.send", func(ctx context.Context) error {
		return s.transport.Send(ctx, t.ID, body)
	})
	if err != nil {
		return "", fmt.Errorf("%w: send: %w", ErrQueueUnavailable, err)
	}

	slog.InfoContext(ctx, "task submitted", "task_id", t.ID, "task_type", t.Type, "size", len(body))
	return t.ID, nil
}

// Receive returns up to max parsed deliveries. Messages that cannot be parsed
// are removed from the queue and skipped.
func (s *Service) Receive(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	var msgs []Message
	err := retry.Do(ctx, s.policy, "queue.receive", func(ctx context.Context) error {
		var err error
		msgs, err = s.transport.Receive(ctx, max, visibility)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: receive: %w", ErrQueueUnavailable, err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		t, err := task.ParseEnvelope(m.Body)
		if err != nil {
			slog.ErrorContext(ctx, "dropping unparseable message", "message_id", m.ID, "error", err)
			if derr := s.transport.Delete(ctx, m); derr != nil {
				slog.WarnContext(ctx, "failed to delete unparseable message", "message_id", m.ID, "error", derr)
			}
			continue
		}
		deliveries = append(deliveries, Delivery{Task: t, Message: m})
	}
	return deliveries, nil
}

func (s *Service) Delete(ctx context.Context, d Delivery) error {
	err := retry.Do(ctx, s.policy, "queue.delete", func(ctx context.Context) error {
		return s.transport.Delete(ctx, d.Message)
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %w", ErrQueueUnavailable, err)
	}
	return nil
}

// Status reports task state. Transports without status tracking always
// answer queued.
func (s *Service) Status(ctx context.Context, taskID string) (StatusReport, error) {
	tracker, ok := s.transport.(StatusTracker)
	if !ok {
		return StatusReport{TaskID: taskID, Status: StatusQueued}, nil
	}

	var report StatusReport
	err := retry.Do(ctx, s.policy, "queue.status", func(ctx context.Context) error {
		var err error
		report, err = tracker.Status(ctx, taskID)
		if errors.Is(err, ErrTaskNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrTaskNotFound) {
		return StatusReport{}, err
	}
	if err != nil {
		return StatusReport{}, fmt.Errorf("%w: status: %w", ErrQueueUnavailable, err)
	}
	return report, nil
}

// ReportStatus records a task transition where the transport supports it.
// It is best-effort: failures are logged, not returned.
func (s *Service) ReportStatus(ctx context.Context, taskID string, status Status, result any) {
	tracker, ok := s.transport.(StatusTracker)
	if !ok || taskID == "" || taskID == task.UnknownID {
		return
	}
	if err := tracker.SetStatus(ctx, taskID, status, result); err != nil {
		slog.WarnContext(ctx, "failed to record task status", "task_id", taskID, "status", status, "error", err)
	}
}

func (s *Service) Close() error {
	return s.transport.Close()
}
