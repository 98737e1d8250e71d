package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docrag/internal/task"
)

const defaultSubmitTimeout = 5 * time.Second

var ErrSubmitTimeout = errors.New("timeout waiting for task submission")

type Submitter interface {
	SubmitTask(ctx context.Context, t *task.Task) (string, error)
}

type Service struct {
	repo    Repository
	queue   Submitter
	timeout time.Duration
}

func NewService(repo Repository, queue Submitter) *Service {
	return &Service{repo: repo, queue: queue, timeout: defaultSubmitTimeout}
}

// WithSubmitTimeout bounds how long Retry waits for the queue.
func (s *Service) WithSubmitTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

// Record stores a failed task.
func (s *Service) Record(ctx context.Context, t *task.Task, reason string) error {
	j := &Job{TaskID: t.ID, TaskType: string(t.Type), Payload: t.Payload, Error: reason}
	if err := s.repo.Save(ctx, j); err != nil {
		return err
	}
	slog.InfoContext(ctx, "failed task recorded", "job_id", j.ID, "task_id", t.ID)
	return nil
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Retry re-submits a failed task under a new task id and removes the job.
// The job is kept when submission fails.
func (s *Service) Retry(ctx context.Context, id string) (string, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}

	t, err := task.New(task.Type(j.TaskType), j.Payload)
	if err != nil {
		return "", err
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	taskID, err := s.queue.SubmitTask(submitCtx, t)
	if err != nil {
		if errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
			return "", ErrSubmitTimeout
		}
		return "", fmt.Errorf("retry job %s: %w", id, err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return taskID, err
	}
	slog.InfoContext(ctx, "failed job retried", "job_id", id, "task_id", taskID)
	return taskID, nil
}
