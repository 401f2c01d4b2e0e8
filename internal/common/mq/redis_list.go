package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codejudger/internal/common/cache"
)

// RedisListQueue implements WorkQueue over a Redis list.
// Publish appends with RPUSH and Pull takes the head with BLPOP, so every
// message is handed to exactly one puller.
type RedisListQueue struct {
	lists cache.ListOps
}

// NewRedisListQueue creates a list-backed queue.
func NewRedisListQueue(lists cache.ListOps) (*RedisListQueue, error) {
	if lists == nil {
		return nil, errors.New("list ops are required")
	}
	return &RedisListQueue{lists: lists}, nil
}

// EncodeMessage serialises a message into the envelope stored on the list.
func EncodeMessage(message *Message) (string, error) {
	if message == nil {
		return "", errors.New("message is nil")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(data), nil
}

// ErrMalformed marks an envelope that was consumed but could not be parsed.
var ErrMalformed = errors.New("malformed message")

// DecodeMessage parses a list envelope.
func DecodeMessage(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// Publish appends a message to the tail of topic.
func (q *RedisListQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	raw, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	return q.lists.RPush(ctx, topic, raw)
}

// PublishBatch appends messages in order with a single RPUSH.
func (q *RedisListQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		raw, err := EncodeMessage(msg)
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	return q.lists.RPush(ctx, topic, values...)
}

// Pull blocks up to timeout for the head of topic.
func (q *RedisListQueue) Pull(ctx context.Context, topic string, timeout time.Duration) (*Message, bool, error) {
	_, raw, ok, err := q.lists.BLPop(ctx, timeout, topic)
	if err != nil || !ok {
		return nil, false, err
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Len returns the queue depth.
func (q *RedisListQueue) Len(ctx context.Context, topic string) (int64, error) {
	return q.lists.LLen(ctx, topic)
}

var _ WorkQueue = (*RedisListQueue)(nil)
