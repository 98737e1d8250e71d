// Package pgqueue is a queue transport backed by the Postgres tasks table.
// Rows are claimed with FOR UPDATE SKIP LOCKED so several workers can poll
// one queue, and task status is tracked alongside the message.
package pgqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docrag/internal/queue"
)

type Transport struct {
	db    *sql.DB
	queue string
}

func NewTransport(db *sql.DB, queueName string) *Transport {
	return &Transport{db: db, queue: queueName}
}

func (t *Transport) Send(ctx context.Context, taskID, body string) error {
	query := `INSERT INTO tasks (id, queue, body) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, status = 'queued', result = NULL,
		visible_at = NOW(), acked_at = NULL, updated_at = NOW()`
	_, err := t.db.ExecContext(ctx, query, taskID, t.queue, body)
	return err
}

func (t *Transport) Receive(ctx context.Context, max int, visibility time.Duration) ([]queue.Message, error) {
	query := `UPDATE tasks SET visible_at = NOW() + make_interval(secs => $3), receive_count = receive_count + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE queue = $1 AND acked_at IS NULL AND visible_at <= NOW()
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, body, receive_count`
	rows, err := t.db.QueryContext(ctx, query, t.queue, max, visibility.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []queue.Message
	for rows.Next() {
		var m queue.Message
		var receipt int
		if err := rows.Scan(&m.ID, &m.Body, &receipt); err != nil {
			return nil, err
		}
		m.TaskID = m.ID
		m.Receipt = receipt
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Delete acks the message. A stale receipt matches no row and is ignored.
func (t *Transport) Delete(ctx context.Context, msg queue.Message) error {
	query := `UPDATE tasks SET acked_at = NOW(), updated_at = NOW() WHERE id = $1 AND receive_count = $2`
	_, err := t.db.ExecContext(ctx, query, msg.ID, msg.Receipt)
	return err
}

func (t *Transport) Status(ctx context.Context, taskID string) (queue.StatusReport, error) {
	var status string
	var result []byte
	query := `SELECT status, result FROM tasks WHERE id = $1`
	err := t.db.QueryRowContext(ctx, query, taskID).Scan(&status, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.StatusReport{}, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return queue.StatusReport{}, err
	}

	report := queue.StatusReport{TaskID: taskID, Status: queue.Status(status)}
	if len(result) > 0 {
		var v any
		if err := json.Unmarshal(result, &v); err == nil {
			report.Result = v
		}
	}
	return report, nil
}

func (t *Transport) SetStatus(ctx context.Context, taskID string, status queue.Status, result any) error {
	var payload []byte
	if result != nil {
		var err error
		if payload, err = json.Marshal(result); err != nil {
			return err
		}
	}
	query := `UPDATE tasks SET status = $2, result = $3, updated_at = NOW() WHERE id = $1`
	_, err := t.db.ExecContext(ctx, query, taskID, string(status), payload)
	return err
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (t *Transport) Close() error {
	return nil
}
