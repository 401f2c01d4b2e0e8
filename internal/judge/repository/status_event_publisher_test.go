package repository_test

import (
	"context"
	"testing"

	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/repository"
)

type recordingProducer struct {
	topic    string
	messages []*mq.Message
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.topic = topic
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		_ = p.Publish(ctx, topic, m)
	}
	return nil
}

func TestPublishFinalStatus(t *testing.T) {
	t.Parallel()
	producer := &recordingProducer{}
	pub := repository.NewMQStatusEventPublisher(producer, "judge.verdicts")

	rec := model.StatusRecord{SubmissionID: "s-9", Status: model.StatusAC, Score: 100}
	if err := pub.PublishFinalStatus(context.Background(), rec); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if producer.topic != "judge.verdicts" || len(producer.messages) != 1 {
		t.Fatalf("unexpected publish %q %d", producer.topic, len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.ID != "s-9" {
		t.Fatalf("message key = %q", msg.ID)
	}
	if v, _ := msg.GetHeader("status"); v != "AC" {
		t.Fatalf("status header = %q", v)
	}
	event, err := repository.DecodeStatusEvent(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Type != model.StatusEventFinal || event.Status.Score != 100 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPublishFinalStatusValidates(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pub  *repository.MQStatusEventPublisher
		rec  model.StatusRecord
	}{
		{"nil publisher", nil, model.StatusRecord{SubmissionID: "x"}},
		{"no topic", repository.NewMQStatusEventPublisher(&recordingProducer{}, ""), model.StatusRecord{SubmissionID: "x"}},
		{"no id", repository.NewMQStatusEventPublisher(&recordingProducer{}, "t"), model.StatusRecord{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.pub.PublishFinalStatus(context.Background(), tt.rec); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
