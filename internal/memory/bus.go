package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// Message is a published bus message.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Publisher records published messages.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := fmt.Sprintf("msg-%d", len(p.messages)+1)
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	p.messages = append(p.messages, Message{ID: id, Data: append([]byte(nil), data...), Attributes: copied})
	return id, nil
}

// Messages returns the published messages in order.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// FailPublish makes every publish return err until cleared with nil.
func (p *Publisher) FailPublish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// IndexNotifier records segment notifications.
type IndexNotifier struct {
	mu    sync.Mutex
	refs  []models.SegmentRef
	err   error
	calls int
}

// NewIndexNotifier creates a notifier that accepts every segment.
func NewIndexNotifier() *IndexNotifier {
	return &IndexNotifier{}
}

// NotifyNewSegment records ref unless a failure is configured.
func (n *IndexNotifier) NotifyNewSegment(_ context.Context, ref models.SegmentRef) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.refs = append(n.refs, ref)
	return nil
}

// Notified returns the accepted notifications in order.
func (n *IndexNotifier) Notified() []models.SegmentRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.SegmentRef(nil), n.refs...)
}

// Calls counts notification attempts, failed ones included.
func (n *IndexNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// FailNotify makes every notification return err until cleared with nil.
func (n *IndexNotifier) FailNotify(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}
