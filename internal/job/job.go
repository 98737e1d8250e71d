// Package job keeps failed tasks in a dead-letter table so they can be
// inspected and retried.
package job

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("failed job not found")

type Job struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	TaskType  string          `json:"task_type"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
