package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/internal/job"
	"docrag/internal/queue"
	"docrag/internal/task"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	j.ID = "j-new"
	return args.Error(0)
}

func (m *MockRepo) List(ctx context.Context) ([]job.Job, error) {
	args := m.Called(ctx)
	return args.Get(0).([]job.Job), args.Error(1)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*job.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *MockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type slowSubmitter struct{}

func (slowSubmitter) SubmitTask(ctx context.Context, _ *task.Task) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestService_Retry(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Get", mock.Anything, "j-1").Return(&job.Job{
		ID: "j-1", TaskID: "t-old", TaskType: "ingest", Payload: json.RawMessage(`{"filename":"a.pdf","document_set":"s"}`),
	}, nil)
	repo.On("Delete", mock.Anything, "j-1").Return(nil)

	transport := queue.NewMemoryTransport()
	svc := job.NewService(repo, queue.NewService(transport))

	taskID, err := svc.Retry(context.Background(), "j-1")
	require.NoError(t, err)
	assert.NotEqual(t, "t-old", taskID)
	assert.Equal(t, 1, transport.Len())
	repo.AssertExpectations(t)
}

func TestService_Retry_KeepsJobOnSubmitFailure(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Get", mock.Anything, "j-1").Return(&job.Job{ID: "j-1", TaskType: "ingest", Payload: json.RawMessage(`{}`)}, nil)

	svc := job.NewService(repo, slowSubmitter{}).WithSubmitTimeout(10 * time.Millisecond)

	_, err := svc.Retry(context.Background(), "j-1")
	assert.ErrorIs(t, err, job.ErrSubmitTimeout)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestService_Retry_NotFound(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Get", mock.Anything, "nope").Return(nil, job.ErrNotFound)

	_, err := job.NewService(repo, slowSubmitter{}).Retry(context.Background(), "nope")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestService_Record(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.TaskID == "t-1" && j.TaskType == "summarize" && j.Error == "Task exceeded timeout of 5 seconds"
	})).Return(nil)

	svc := job.NewService(repo, nil)
	err := svc.Record(context.Background(), &task.Task{ID: "t-1", Type: task.TypeSummarize, Payload: json.RawMessage(`{}`)}, "Task exceeded timeout of 5 seconds")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_ListAndCount(t *testing.T) {
	repo := new(MockRepo)
	repo.On("List", mock.Anything).Return([]job.Job{{ID: "1"}, {ID: "2"}}, nil)
	repo.On("Count", mock.Anything).Return(2, nil)
	svc := job.NewService(repo, nil)

	jobs, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	n, err := svc.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestService_Count_Error(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Count", mock.Anything).Return(0, errors.New("db down"))

	_, err := job.NewService(repo, nil).Count(context.Background())
	assert.Error(t, err)
}
