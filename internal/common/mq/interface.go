package mq

import (
	"context"
	"time"
)

// Producer defines the interface for publishing messages
type Producer interface {
	// Publish publishes a message to the specified topic/queue
	Publish(ctx context.Context, topic string, message *Message) error

	// PublishBatch publishes multiple messages in one round trip
	PublishBatch(ctx context.Context, topic string, messages []*Message) error
}

// Puller defines blocking pull-style consumption used by the worker pool.
type Puller interface {
	// Pull waits up to timeout for the next message on topic.
	// ok is false when the wait elapsed without a message.
	Pull(ctx context.Context, topic string, timeout time.Duration) (msg *Message, ok bool, err error)

	// Len reports the number of messages waiting on topic.
	Len(ctx context.Context, topic string) (int64, error)
}

// WorkQueue is a durable FIFO with at-least-once delivery.
type WorkQueue interface {
	Producer
	Puller
}

// HandlerFunc is the function signature for message handlers
type HandlerFunc func(ctx context.Context, message *Message) error

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers,omitempty"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// RetryCount counts redeliveries of the same payload
	RetryCount int `json:"retry_count,omitempty"`
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}
