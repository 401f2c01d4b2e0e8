package mq

import (
	"testing"
	"time"
)

func TestKafkaMessageHeadersRoundTrip(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &Message{
		ID:         "sub-9",
		Body:       []byte("payload"),
		Headers:    map[string]string{"event": "final"},
		Timestamp:  ts,
		RetryCount: 2,
	}
	km := toKafkaMessage("judge.status", msg)
	if km.Topic != "judge.status" || string(km.Key) != "sub-9" {
		t.Fatalf("unexpected topic/key: %s %s", km.Topic, km.Key)
	}

	got := fromKafkaMessage(km)
	if got.ID != msg.ID || string(got.Body) != "payload" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v", ts, got.Timestamp)
	}
	if got.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", got.RetryCount)
	}
	if got.Headers["event"] != "final" {
		t.Fatalf("expected custom header kept, got %v", got.Headers)
	}
	if _, ok := got.Headers[headerID]; ok {
		t.Fatalf("reserved header leaked into user headers")
	}
}

func TestTokenLimiterBoundsConcurrency(t *testing.T) {
	t.Parallel()
	l := NewTokenLimiter(1)
	if !l.TryAcquire() {
		t.Fatalf("expected first acquire to succeed")
	}
	if l.TryAcquire() {
		t.Fatalf("expected second acquire to fail")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatalf("expected acquire after release to succeed")
	}
}
