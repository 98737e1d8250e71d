package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeIngest    Type = "ingest"
	TypeSummarize Type = "summarize"
)

var (
	ErrMalformedTaskData = errors.New("malformed task data")
	ErrUnknownTaskType   = errors.New("unknown task type")
	ErrInvalidPayload    = errors.New("invalid task payload")
)

type Task struct {
	ID         string          `json:"task_id"`
	Type       Type            `json:"task_type"`
	Payload    json.RawMessage `json:"payload"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// New builds a task with a fresh id. payload is marshalled unless it is
// already raw JSON.
func New(typ Type, payload any) (*Task, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return raw, nil
	}
}

// Known reports whether typ has a handler in the standard registry.
func (t Type) Known() bool {
	return t == TypeIngest || t == TypeSummarize
}

// DecodePayload unmarshals a payload into the per-type schema and validates it.
func DecodePayload[P interface{ Validate() error }](raw json.RawMessage, into P) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return into.Validate()
}

type IngestPayload struct {
	Filename    string `json:"filename"`
	DocumentSet string `json:"document_set"`
	Filepath    string `json:"filepath,omitempty"`
	Pipeline    string `json:"pipeline,omitempty"`
}

func (p *IngestPayload) Validate() error {
	if strings.TrimSpace(p.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidPayload)
	}
	if p.DocumentSet == "" {
		p.DocumentSet = "default"
	}
	switch p.Pipeline {
	case "":
		p.Pipeline = "standard"
	case "standard", "vlm":
	default:
		return fmt.Errorf("%w: unknown pipeline %q", ErrInvalidPayload, p.Pipeline)
	}
	return nil
}

type SummarizePayload struct {
	Filename    string `json:"filename"`
	DocumentSet string `json:"document_set"`
	Filepath    string `json:"filepath,omitempty"`
}

func (p *SummarizePayload) Validate() error {
	if strings.TrimSpace(p.Filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidPayload)
	}
	if p.DocumentSet == "" {
		p.DocumentSet = "default"
	}
	return nil
}
