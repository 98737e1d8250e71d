package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"docrag/internal/queue"
)

type Receiver interface {
	Receive(ctx context.Context, max int, visibility time.Duration) ([]queue.Delivery, error)
	Delete(ctx context.Context, d queue.Delivery) error
}

type PollerConfig struct {
	MaxMessages       int
	VisibilityTimeout time.Duration
	PollingInterval   time.Duration
}

// Poller drains the queue continuously. Each delivery is acked once its
// handler has returned, whatever the result.
type Poller struct {
	queue   Receiver
	runner  *Runner
	cfg     PollerConfig
	running atomic.Bool
}

func NewPoller(q Receiver, runner *Runner, cfg PollerConfig) *Poller {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 10
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	return &Poller{queue: q, runner: runner, cfg: cfg}
}

func (p *Poller) Running() bool {
	return p.running.Load()
}

// Run polls until ctx is cancelled. Cancellation stops the loop after the
// current batch; in-flight handlers are not interrupted.
func (p *Poller) Run(ctx context.Context) error {
	p.running.Store(true)
	stop := context.AfterFunc(ctx, func() { p.running.Store(false) })
	defer stop()
	defer p.running.Store(false)

	slog.InfoContext(ctx, "worker polling started", "max_messages", p.cfg.MaxMessages, "interval", p.cfg.PollingInterval)

	work := context.WithoutCancel(ctx)
	for p.running.Load() {
		deliveries, err := p.queue.Receive(ctx, p.cfg.MaxMessages, p.cfg.VisibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.ErrorContext(ctx, "receive failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if len(deliveries) == 0 {
			p.sleep(ctx)
			continue
		}

		slog.InfoContext(ctx, "received messages", "count", len(deliveries))
		for _, d := range deliveries {
			p.handle(work, d)
		}
	}

	slog.InfoContext(ctx, "worker polling stopped")
	return nil
}

func (p *Poller) handle(ctx context.Context, d queue.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "error processing message", "message_id", d.Message.ID, "error", fmt.Sprint(r))
		}
		if err := p.queue.Delete(ctx, d); err != nil {
			slog.ErrorContext(ctx, "failed to delete message", "message_id", d.Message.ID, "error", err)
		}
	}()
	p.runner.Process(ctx, d.Task)
}

func (p *Poller) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollingInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
