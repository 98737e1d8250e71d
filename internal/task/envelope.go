package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

const UnknownID = "unknown"

type envelope struct {
	TaskID     string          `json:"task_id,omitempty"`
	TaskType   Type            `json:"task_type"`
	Payload    json.RawMessage `json:"payload"`
	WebhookURL string          `json:"webhook_url,omitempty"`
}

// Encode renders the queue wire format: "<task_id>|<json>".
func Encode(t *Task) (string, error) {
	body, err := json.Marshal(envelope{
		TaskType:   t.Type,
		Payload:    t.Payload,
		WebhookURL: t.WebhookURL,
	})
	if err != nil {
		return "", err
	}
	return t.ID + "|" + string(body), nil
}

// ParseEnvelope accepts either "<task_id>|<json>" or bare JSON. A task_id
// field inside the JSON overrides the prefix. Without any id the task is
// named UnknownID.
func ParseEnvelope(raw string) (*Task, error) {
	id := UnknownID
	data := strings.TrimSpace(raw)
	if data == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedTaskData)
	}
	// Bare JSON may carry '|' inside the payload.
	if !strings.HasPrefix(data, "{") {
		if prefix, rest, ok := strings.Cut(data, "|"); ok {
			if p := strings.TrimSpace(prefix); p != "" {
				id = p
			}
			data = rest
		}
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTaskData, err)
	}
	if env.TaskType == "" {
		return nil, fmt.Errorf("%w: missing task_type", ErrMalformedTaskData)
	}
	if env.TaskID != "" {
		id = env.TaskID
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		env.Payload = json.RawMessage("{}")
	}

	return &Task{
		ID:         id,
		Type:       env.TaskType,
		Payload:    env.Payload,
		WebhookURL: env.WebhookURL,
	}, nil
}
