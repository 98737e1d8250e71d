package worker_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"docrag/internal/convert"
	"docrag/internal/ingest"
	"docrag/internal/queue"
	"docrag/internal/summary"
	"docrag/internal/task"
)

type MockIngester struct{ mock.Mock }

func (m *MockIngester) Process(ctx context.Context, req ingest.Request) ingest.Outcome {
	return m.Called(ctx, req).Get(0).(ingest.Outcome)
}

type MockBlobStore struct{ mock.Mock }

func (m *MockBlobStore) Download(ctx context.Context, set, filename string) (string, error) {
	args := m.Called(ctx, set, filename)
	return args.String(0), args.Error(1)
}

type MockSummarizer struct{ mock.Mock }

func (m *MockSummarizer) Document(ctx context.Context, src convert.Source) (string, error) {
	args := m.Called(ctx, src)
	return args.String(0), args.Error(1)
}

type MockSummaryStore struct{ mock.Mock }

func (m *MockSummaryStore) Save(ctx context.Context, s *summary.Summary) error {
	return m.Called(ctx, s).Error(0)
}

type MockDeadLetter struct{ mock.Mock }

func (m *MockDeadLetter) Record(ctx context.Context, t *task.Task, reason string) error {
	return m.Called(ctx, t, reason).Error(0)
}

type statusCall struct {
	TaskID string
	Status queue.Status
}

type recordingReporter struct {
	mu    sync.Mutex
	calls []statusCall
}

func (r *recordingReporter) ReportStatus(_ context.Context, taskID string, status queue.Status, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, statusCall{taskID, status})
}
