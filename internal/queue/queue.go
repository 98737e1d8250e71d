// Package queue carries tasks from producers (uploads, the watcher, job
// retries) to workers over a pluggable transport.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxMessageSize is the ceiling for an encoded message, in bytes.
const MaxMessageSize = 64 * 1024

var (
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrQueueUnavailable = errors.New("queue unavailable")
	ErrTaskNotFound     = errors.New("task not found")
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Message is one transport-level delivery. Receipt is opaque to callers and
// identifies this particular delivery to the transport on Delete.
type Message struct {
	ID      string
	TaskID  string
	Body    string
	Receipt any
}

type Transport interface {
	Send(ctx context.Context, taskID, body string) error
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
	Close() error
}

// StatusTracker is implemented by transports that persist task state.
type StatusTracker interface {
	Status(ctx context.Context, taskID string) (StatusReport, error)
	SetStatus(ctx context.Context, taskID string, status Status, result any) error
}

type StatusReport struct {
	TaskID string `json:"task_id"`
	Status Status `json:"status"`
	Result any    `json:"result,omitempty"`
}

// Name derives the per-tenant queue identity.
func Name(clientID string) string {
	return strings.ToLower(strings.TrimSpace(clientID)) + "-tasks"
}
