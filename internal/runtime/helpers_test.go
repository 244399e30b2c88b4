package runtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/internal/runtime/schema"
)

const userSchema = `{
  "type": "record",
  "name": "User",
  "namespace": "com.acme",
  "fields": [
    {"name": "id", "type": "long"},
    {"name": "name", "type": "string"},
    {"name": "status", "type": {"type": "enum", "name": "Status", "symbols": ["ACTIVE", "BANNED"]}},
    {"name": "tags", "type": {"type": "array", "items": "string"}}
  ]
}`

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newUserRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.LoadAvro([]byte(userSchema))
	require.NoError(t, err)
	return reg
}

func userProducer(id, topic string) *operations.ProducerOperation {
	return &operations.ProducerOperation{
		Operation:     operations.Operation{OperationID: id, Topic: topic},
		KeySerializer: operations.KeyString,
		Key:           "user-1",
		Record: &operations.RecordSpec{
			Namespace: "com.acme",
			Name:      "User",
			Value: map[string]any{
				"id":     "42",
				"name":   "Ada",
				"status": "ACTIVE",
				"tags":   []any{"admin"},
			},
		},
	}
}

// recordingPublisher captures published messages and the time they arrived.
type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
	times    []time.Time
	err      error
	closed   bool
	notify   chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		messages: make(map[string][]*message.Message),
		notify:   make(chan struct{}, 64),
	}
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = append(p.messages[topic], msgs...)
	p.times = append(p.times, time.Now())
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.times)
}

func (p *recordingPublisher) FirstAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.times) == 0 {
		return time.Time{}
	}
	return p.times[0]
}

func (p *recordingPublisher) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// waitFor blocks until n messages were published or the timeout elapses.
func (p *recordingPublisher) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for p.Count() < n {
		select {
		case <-p.notify:
		case <-deadline:
			t.Fatalf("expected %d published messages, got %d", n, p.Count())
		}
	}
}
