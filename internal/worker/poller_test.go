package worker_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/queue"
	"docrag/internal/retry"
	"docrag/internal/task"
	"docrag/internal/worker"
)

var fastPolicy = retry.Policy{Attempts: 1, Base: time.Millisecond, Max: time.Millisecond}

func fastPollerConfig() worker.PollerConfig {
	return worker.PollerConfig{MaxMessages: 10, VisibilityTimeout: time.Minute, PollingInterval: 5 * time.Millisecond}
}

func TestPoller_ProcessesAndAcks(t *testing.T) {
	transport := queue.NewMemoryTransport()
	svc := queue.NewService(transport, queue.WithRetryPolicy(fastPolicy))

	var handled atomic.Int32
	h := worker.HandlerFunc(func(context.Context, json.RawMessage) worker.Result {
		if handled.Add(1) == 2 {
			return worker.Failed("boom")
		}
		return worker.Completed("ok")
	})
	runner := worker.NewRunner(registryWith(task.TypeIngest, h))

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(context.Background(), task.TypeIngest, map[string]string{"filename": "a.txt"})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := worker.NewPoller(svc, runner, fastPollerConfig())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return transport.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), handled.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.False(t, p.Running())
}

func TestPoller_AcksAfterPanic(t *testing.T) {
	transport := queue.NewMemoryTransport()
	svc := queue.NewService(transport, queue.WithRetryPolicy(fastPolicy))
	h := worker.HandlerFunc(func(context.Context, json.RawMessage) worker.Result { panic("bad") })
	runner := worker.NewRunner(registryWith(task.TypeIngest, h))

	_, err := svc.Submit(context.Background(), task.TypeIngest, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.NewPoller(svc, runner, fastPollerConfig()).Run(ctx) }()

	require.Eventually(t, func() bool { return transport.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPoller_InFlightWorkSurvivesShutdown(t *testing.T) {
	transport := queue.NewMemoryTransport()
	svc := queue.NewService(transport, queue.WithRetryPolicy(fastPolicy))

	started := make(chan struct{})
	var ctxErr atomic.Value
	h := worker.HandlerFunc(func(ctx context.Context, _ json.RawMessage) worker.Result {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return worker.Completed("ok")
	})
	runner := worker.NewRunner(registryWith(task.TypeIngest, h))
	_, err := svc.Submit(context.Background(), task.TypeIngest, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.NewPoller(svc, runner, fastPollerConfig()).Run(ctx) }()

	<-started
	cancel()
	require.NoError(t, <-done)
	assert.Nil(t, ctxErr.Load())
	assert.Equal(t, 0, transport.Len())
}

func TestPoller_MessageHeldWhileHandlerRuns(t *testing.T) {
	transport := queue.NewMemoryTransport()
	svc := queue.NewService(transport, queue.WithRetryPolicy(fastPolicy))

	started := make(chan struct{})
	release := make(chan struct{})
	h := worker.HandlerFunc(func(context.Context, json.RawMessage) worker.Result {
		close(started)
		<-release
		return worker.Completed("ok")
	})
	runner := worker.NewRunner(registryWith(task.TypeIngest, h))
	_, err := svc.Submit(context.Background(), task.TypeIngest, map[string]string{"filename": "a.txt"})
	require.NoError(t, err)

	cfg := fastPollerConfig()
	cfg.VisibilityTimeout = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.NewPoller(svc, runner, cfg).Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	<-started
	assert.Equal(t, 1, transport.Len())

	// A worker dying here must leave the message for another one.
	require.Eventually(t, func() bool {
		msgs, err := transport.Receive(context.Background(), 1, time.Minute)
		return err == nil && len(msgs) == 1
	}, time.Second, 10*time.Millisecond)

	close(release)
	require.Never(t, func() bool { return transport.Len() == 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
