package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryTransport is an in-process queue with visibility-timeout
// redelivery. It reports every task as completed.
type MemoryTransport struct {
	mu      sync.Mutex
	entries []*memoryEntry
	seq     int
	now     func() time.Time
}

type memoryEntry struct {
	msg       Message
	visibleAt time.Time
	receipt   int
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{now: time.Now}
}

func (m *MemoryTransport) Send(_ context.Context, taskID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.entries = append(m.entries, &memoryEntry{
		msg:       Message{ID: strconv.Itoa(m.seq), TaskID: taskID, Body: body},
		visibleAt: m.now(),
	})
	return nil
}

func (m *MemoryTransport) Receive(_ context.Context, max int, visibility time.Duration) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Message
	for _, e := range m.entries {
		if len(out) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		m.seq++
		e.receipt = m.seq
		e.visibleAt = now.Add(visibility)
		msg := e.msg
		msg.Receipt = e.receipt
		out = append(out, msg)
	}
	return out, nil
}

// Delete removes the message if the receipt is still current. A stale
// receipt (the message was redelivered since) is ignored.
func (m *MemoryTransport) Delete(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.msg.ID == msg.ID && e.receipt == msg.Receipt {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len counts messages still held, visible or not.
func (m *MemoryTransport) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryTransport) Status(_ context.Context, taskID string) (StatusReport, error) {
	return StatusReport{TaskID: taskID, Status: StatusCompleted, Result: "mock_result"}, nil
}

func (m *MemoryTransport) SetStatus(context.Context, string, Status, any) error {
	return nil
}

func (m *MemoryTransport) Close() error {
	return nil
}
