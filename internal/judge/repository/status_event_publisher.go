package repository

import (
	"context"
	"encoding/json"
	"time"

	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
)

// StatusEventPublisher publishes terminal status events for downstream consumers.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, status model.StatusRecord) error
}

// MQStatusEventPublisher publishes status events to a message queue topic.
type MQStatusEventPublisher struct {
	producer mq.Producer
	topic    string
	now      func() time.Time
}

// NewMQStatusEventPublisher creates a new MQ status event publisher.
func NewMQStatusEventPublisher(producer mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{producer: producer, topic: topic, now: time.Now}
}

// PublishFinalStatus publishes a final status event keyed by submission id,
// so every event of one submission lands on the same partition.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, status model.StatusRecord) error {
	if p == nil || p.producer == nil {
		return errors.New(errors.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return errors.New(errors.InvalidParams).WithMessage("status topic is required")
	}
	if status.SubmissionID == "" {
		return errors.ValidationError("submission_id", "required")
	}
	event := model.StatusEvent{
		Type:      model.StatusEventFinal,
		Status:    status,
		CreatedAt: p.now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "marshal status event")
	}
	message := mq.NewMessage(payload)
	message.ID = status.SubmissionID
	message.SetHeader("status", string(status.Status))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return errors.Wrapf(err, errors.PublishFailed, "publish status event")
	}
	return nil
}

// DecodeStatusEvent parses a message produced by PublishFinalStatus.
func DecodeStatusEvent(message *mq.Message) (model.StatusEvent, error) {
	var event model.StatusEvent
	if message == nil {
		return event, errors.New(errors.InvalidFormat).WithMessage("empty status event")
	}
	if err := json.Unmarshal(message.Body, &event); err != nil {
		return event, errors.Wrapf(err, errors.InvalidFormat, "decode status event")
	}
	return event, nil
}
