package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const webhookTimeout = 30 * time.Second

type Notification struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Status   Status `json:"status"`
	Result   any    `json:"result"`
	Error    string `json:"error,omitempty"`
}

// Notifier posts task results to webhook URLs.
type Notifier struct {
	client *http.Client
}

func NewNotifier() *Notifier {
	return &Notifier{client: &http.Client{Timeout: webhookTimeout}}
}

func (n *Notifier) Notify(ctx context.Context, url string, body Notification) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	slog.InfoContext(ctx, "webhook sent", "url", url, "task_id", body.TaskID)
	return nil
}
