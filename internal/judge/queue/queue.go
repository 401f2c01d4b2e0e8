// Package queue carries judge jobs from ingress to workers.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
)

// DefaultKey is the Redis list holding pending jobs.
const DefaultKey = "judge:queue"

// JobQueue is a FIFO of jobs with at-least-once delivery.
type JobQueue struct {
	q   mq.WorkQueue
	key string
}

func NewJobQueue(q mq.WorkQueue, key string) *JobQueue {
	if key == "" {
		key = DefaultKey
	}
	return &JobQueue{q: q, key: key}
}

// Key returns the list key.
func (j *JobQueue) Key() string { return j.key }

// Encode renders the envelope pushed onto the list. Ingress pushes it inside
// the same transaction that writes the Pending record.
func Encode(job *model.Job) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", errors.Wrapf(err, errors.SubmissionEnqueue, "encode job")
	}
	msg := mq.NewMessage(body)
	msg.ID = job.SubmissionID
	msg.SetHeader("language", string(job.Language))
	raw, err := mq.EncodeMessage(msg)
	if err != nil {
		return "", errors.Wrap(err, errors.SubmissionEnqueue)
	}
	return raw, nil
}

// Enqueue appends a job outside any transaction.
func (j *JobQueue) Enqueue(ctx context.Context, job *model.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, errors.SubmissionEnqueue, "encode job")
	}
	msg := mq.NewMessage(body)
	msg.ID = job.SubmissionID
	msg.SetHeader("language", string(job.Language))
	if err := j.q.Publish(ctx, j.key, msg); err != nil {
		return errors.Wrapf(err, errors.SubmissionEnqueue, "enqueue %s", job.SubmissionID)
	}
	return nil
}

// Dequeue waits up to timeout for the next job. ok is false on an idle wait.
// A payload that does not decode is consumed and reported as InvalidFormat.
func (j *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*model.Job, bool, error) {
	msg, ok, err := j.q.Pull(ctx, j.key, timeout)
	if err != nil {
		if stderrors.Is(err, mq.ErrMalformed) {
			return nil, false, errors.Wrapf(err, errors.InvalidFormat, "decode envelope on %s", j.key)
		}
		return nil, false, errors.Wrapf(err, errors.CacheError, "read queue %s", j.key)
	}
	if !ok {
		return nil, false, nil
	}
	var job model.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return nil, false, errors.Wrapf(err, errors.InvalidFormat, "decode job %s", msg.ID)
	}
	if job.SubmissionID == "" {
		job.SubmissionID = msg.ID
	}
	return &job, true, nil
}

// Depth reports how many jobs are waiting.
func (j *JobQueue) Depth(ctx context.Context) (int64, error) {
	n, err := j.q.Len(ctx, j.key)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CacheError, "queue depth")
	}
	return n, nil
}
