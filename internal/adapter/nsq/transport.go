package nsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"docrag/internal/queue"
)

const receiveWait = time.Second

type Publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

type Config struct {
	NSQDAddr    string
	LookupAddr  string
	Topic       string
	Channel     string
	MaxInFlight int
}

// Transport publishes tasks to an NSQ topic and hands out consumed messages
// through a buffer. Messages are never auto-finished: they are finished on
// Delete or redelivered by nsqd once their timeout expires.
type Transport struct {
	cfg       Config
	producer  Publisher
	mu        sync.Mutex
	consumer  *nsq.Consumer
	buffer    chan *nsq.Message
	stop      chan struct{}
	stopOnce  sync.Once
	connected bool
}

func NewTransport(cfg Config, producer Publisher) *Transport {
	if cfg.Channel == "" {
		cfg.Channel = "worker"
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	return &Transport{
		cfg:      cfg,
		producer: producer,
		buffer:   make(chan *nsq.Message, cfg.MaxInFlight),
		stop:     make(chan struct{}),
	}
}

func (t *Transport) Send(_ context.Context, _ string, body string) error {
	return t.producer.Publish(t.cfg.Topic, []byte(body))
}

func (t *Transport) Receive(ctx context.Context, max int, visibility time.Duration) ([]queue.Message, error) {
	if err := t.ensureConsumer(visibility); err != nil {
		return nil, err
	}

	var out []queue.Message
	timer := time.NewTimer(receiveWait)
	defer timer.Stop()

	select {
	case m := <-t.buffer:
		out = append(out, toMessage(m))
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(out) < max {
		select {
		case m := <-t.buffer:
			out = append(out, toMessage(m))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (t *Transport) Delete(_ context.Context, msg queue.Message) error {
	m, ok := msg.Receipt.(*nsq.Message)
	if !ok || m == nil {
		return fmt.Errorf("nsq: message %s has no receipt", msg.ID)
	}
	m.Finish()
	return nil
}

// Close releases handlers blocked on a full buffer, then stops the consumer
// and producer.
func (t *Transport) Close() error {
	t.stopOnce.Do(func() { close(t.stop) })

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumer != nil {
		t.consumer.Stop()
		<-t.consumer.StopChan
		t.consumer = nil
	}
	if t.producer != nil {
		t.producer.Stop()
	}
	return nil
}

// HandleMessage buffers a delivery for the next Receive. Once the transport
// is closing, the message goes straight back to nsqd.
func (t *Transport) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	m.DisableAutoResponse()
	select {
	case t.buffer <- m:
	case <-t.stop:
		m.Requeue(0)
	}
	return nil
}

func (t *Transport) ensureConsumer(visibility time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}

	cfg := nsq.NewConfig()
	cfg.MaxInFlight = t.cfg.MaxInFlight
	if visibility > 0 {
		cfg.MsgTimeout = visibility
	}
	consumer, err := nsq.NewConsumer(t.cfg.Topic, t.cfg.Channel, cfg)
	if err != nil {
		return fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(t)

	switch {
	case t.cfg.LookupAddr != "":
		err = consumer.ConnectToNSQLookupd(t.cfg.LookupAddr)
	case t.cfg.NSQDAddr != "":
		err = consumer.ConnectToNSQD(t.cfg.NSQDAddr)
	default:
		err = errors.New("no nsqd or lookupd address configured")
	}
	if err != nil {
		consumer.Stop()
		return fmt.Errorf("nsq connect: %w", err)
	}

	t.consumer = consumer
	t.connected = true
	slog.Info("nsq consumer connected", "topic", t.cfg.Topic, "channel", t.cfg.Channel)
	return nil
}

func toMessage(m *nsq.Message) queue.Message {
	return queue.Message{
		ID:      string(m.ID[:]),
		Body:    string(m.Body),
		Receipt: m,
	}
}

// CreateTopic asks nsqd to create topic up front so consumers looking it up
// through nsqlookupd do not fail before the first publish.
func CreateTopic(ctx context.Context, nsqdHTTP, topic string) error {
	url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req) // #nosec G107 -- URL is built from internal NSQ config
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsq topic create: status %d", resp.StatusCode)
	}
	return nil
}
