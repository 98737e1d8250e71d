// Package worker executes queued tasks, either one task per process or by
// polling the queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"docrag/internal/task"
)

var ErrTaskTimeout = errors.New("task exceeded timeout")

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Result struct {
	Status Status `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Completed(result any) Result {
	return Result{Status: StatusCompleted, Result: result}
}

func Failed(reason string) Result {
	return Result{Status: StatusFailed, Error: reason}
}

type Handler interface {
	Execute(ctx context.Context, payload json.RawMessage) Result
}

type HandlerFunc func(ctx context.Context, payload json.RawMessage) Result

func (f HandlerFunc) Execute(ctx context.Context, payload json.RawMessage) Result {
	return f(ctx, payload)
}

// Registry maps task types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.Type]Handler)}
}

func (r *Registry) Register(t task.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Registry) Lookup(t task.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}
