package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/internal/queue"
	"docrag/internal/task"
	"docrag/internal/worker"
)

func registryWith(typ task.Type, h worker.HandlerFunc) *worker.Registry {
	r := worker.NewRegistry()
	r.Register(typ, h)
	return r
}

func ok(result string) worker.HandlerFunc {
	return func(context.Context, json.RawMessage) worker.Result { return worker.Completed(result) }
}

func TestRunner_Run(t *testing.T) {
	slow := worker.HandlerFunc(func(ctx context.Context, _ json.RawMessage) worker.Result {
		time.Sleep(200 * time.Millisecond)
		return worker.Completed("late")
	})
	panicky := worker.HandlerFunc(func(context.Context, json.RawMessage) worker.Result { panic("boom") })

	tests := []struct {
		name     string
		raw      string
		handler  worker.HandlerFunc
		timeout  time.Duration
		wantCode int
	}{
		{name: "Completed", raw: `t1|{"task_type":"ingest","payload":{}}`, handler: ok("done"), wantCode: 0},
		{name: "Bare JSON", raw: `{"task_type":"ingest"}`, handler: ok("done"), wantCode: 0},
		{name: "Malformed", raw: `t1|not json`, handler: ok("done"), wantCode: 1},
		{name: "Missing Type", raw: `t1|{"payload":{}}`, handler: ok("done"), wantCode: 1},
		{name: "Unknown Type", raw: `t1|{"task_type":"translate"}`, handler: ok("done"), wantCode: 1},
		{name: "Timeout", raw: `t1|{"task_type":"ingest"}`, handler: slow, timeout: 20 * time.Millisecond, wantCode: 1},
		{name: "Panic", raw: `t1|{"task_type":"ingest"}`, handler: panicky, wantCode: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := worker.NewRunner(registryWith(task.TypeIngest, tt.handler), worker.WithTimeout(tt.timeout))
			assert.Equal(t, tt.wantCode, r.Run(context.Background(), tt.raw))
		})
	}
}

func TestRunner_DispatchMessages(t *testing.T) {
	slow := worker.HandlerFunc(func(ctx context.Context, _ json.RawMessage) worker.Result {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return worker.Completed("late")
	})
	r := worker.NewRunner(registryWith(task.TypeIngest, slow), worker.WithTimeout(20*time.Millisecond))

	res := r.Dispatch(context.Background(), &task.Task{ID: "t", Type: task.TypeIngest})
	assert.Equal(t, worker.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "Task exceeded timeout of")

	res = r.Dispatch(context.Background(), &task.Task{ID: "t", Type: "translate"})
	assert.Equal(t, "Unknown task type: translate", res.Error)
}

func TestRunner_TimeoutMessageUsesSeconds(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	h := worker.HandlerFunc(func(context.Context, json.RawMessage) worker.Result {
		<-block
		return worker.Completed("")
	})
	r := worker.NewRunner(registryWith(task.TypeIngest, h), worker.WithTimeout(1*time.Second))

	res := r.Dispatch(context.Background(), &task.Task{ID: "t", Type: task.TypeIngest})
	assert.Equal(t, "Task exceeded timeout of 1 seconds", res.Error)

	r = worker.NewRunner(registryWith(task.TypeIngest, h), worker.WithTimeout(250*time.Millisecond))
	res = r.Dispatch(context.Background(), &task.Task{ID: "t", Type: task.TypeIngest})
	assert.Equal(t, "Task exceeded timeout of 0.25 seconds", res.Error)
}

func TestRunner_Webhook(t *testing.T) {
	received := make(chan worker.Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var n worker.Notification
		_ = json.Unmarshal(body, &n)
		received <- n
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := worker.NewRunner(registryWith(task.TypeIngest, ok("Indexed a.pdf (standard): 2 chunks.")))
	raw := `abc|{"task_type":"ingest","payload":{"filename":"a.pdf"},"webhook_url":"` + srv.URL + `"}`
	require.Equal(t, 0, r.Run(context.Background(), raw))

	n := <-received
	assert.Equal(t, "abc", n.TaskID)
	assert.Equal(t, "ingest", n.TaskType)
	assert.Equal(t, worker.StatusCompleted, n.Status)
	assert.Equal(t, "Indexed a.pdf (standard): 2 chunks.", n.Result)
}

func TestRunner_WebhookFailureKeepsExitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := worker.NewRunner(registryWith(task.TypeIngest, ok("done")))
	raw := `abc|{"task_type":"ingest","webhook_url":"` + srv.URL + `"}`
	assert.Equal(t, 0, r.Run(context.Background(), raw))
}

func TestRunner_ReportsStatusAndDeadLetters(t *testing.T) {
	failing := worker.HandlerFunc(func(context.Context, json.RawMessage) worker.Result {
		return worker.Failed("Failed a.pdf: upsert failed: boom")
	})
	reporter := &recordingReporter{}
	dead := new(MockDeadLetter)
	dead.On("Record", mock.Anything, mock.MatchedBy(func(tk *task.Task) bool { return tk.ID == "t-9" }), "Failed a.pdf: upsert failed: boom").Return(nil)

	r := worker.NewRunner(registryWith(task.TypeIngest, failing), worker.WithStatusReporter(reporter), worker.WithDeadLetter(dead))
	assert.Equal(t, 1, r.Run(context.Background(), `t-9|{"task_type":"ingest"}`))

	dead.AssertExpectations(t)
	require.Len(t, reporter.calls, 2)
	assert.Equal(t, queue.StatusProcessing, reporter.calls[0].Status)
	assert.Equal(t, queue.StatusFailed, reporter.calls[1].Status)
}
