package queue_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"docrag/internal/queue"
)

type MockTransport struct{ mock.Mock }

func (m *MockTransport) Send(ctx context.Context, taskID, body string) error {
	args := m.Called(ctx, taskID, body)
	return args.Error(0)
}

func (m *MockTransport) Receive(ctx context.Context, max int, visibility time.Duration) ([]queue.Message, error) {
	args := m.Called(ctx, max, visibility)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Message), args.Error(1)
}

func (m *MockTransport) Delete(ctx context.Context, msg queue.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockTransport) Close() error { return nil }
