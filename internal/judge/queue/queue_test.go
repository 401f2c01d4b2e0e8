package queue_test

import (
	"context"
	"testing"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/queue"
	"codejudger/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newQueue(t *testing.T) (*queue.JobQueue, *cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	lq, err := mq.NewRedisListQueue(c)
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	return queue.NewJobQueue(lq, ""), c, mr
}

func TestJobQueueFIFO(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		job := &model.Job{SubmissionID: id, Language: model.LanguagePython, SourceCode: "print(1)"}
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("depth = %d, %v", depth, err)
	}
	for _, want := range []string{"a", "b", "c"} {
		job, ok, err := q.Dequeue(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("dequeue: ok=%v err=%v", ok, err)
		}
		if job.SubmissionID != want {
			t.Fatalf("got %s, want %s", job.SubmissionID, want)
		}
		if job.Language != model.LanguagePython {
			t.Fatalf("language lost: %q", job.Language)
		}
	}
}

func TestEncodeInsidePipeline(t *testing.T) {
	t.Parallel()
	q, c, _ := newQueue(t)
	ctx := context.Background()

	job := &model.Job{SubmissionID: "tx-1", Language: model.LanguageCPP, SourceCode: "int main(){}", TestCases: []model.TestCase{}}
	raw, err := queue.Encode(job)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	err = c.TxPipeline(ctx, func(pipe cache.Pipeliner) error {
		pipe.HMSet("judge:sub:tx-1", map[string]any{"status": "Pending"})
		pipe.RPush(q.Key(), raw)
		return nil
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	got, ok, err := q.Dequeue(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if got.SubmissionID != "tx-1" || !got.MemoryMode() {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestDequeueMalformed(t *testing.T) {
	t.Parallel()
	q, _, mr := newQueue(t)

	if _, err := mr.Push(q.Key(), "{not json"); err != nil {
		t.Fatalf("push: %v", err)
	}
	_, ok, err := q.Dequeue(context.Background(), time.Second)
	if ok || !errors.Is(err, errors.InvalidFormat) {
		t.Fatalf("ok=%v err=%v, want InvalidFormat", ok, err)
	}
	if mr.Exists(q.Key()) {
		t.Fatal("malformed payload should be consumed")
	}
}

func TestDequeueIdle(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t)

	job, ok, err := q.Dequeue(context.Background(), time.Second)
	if err != nil || ok || job != nil {
		t.Fatalf("idle dequeue = %v, %v, %v", job, ok, err)
	}
}

func TestCaseModeSurvivesQueue(t *testing.T) {
	t.Parallel()
	q, _, _ := newQueue(t)
	ctx := context.Background()

	inline := &model.Job{SubmissionID: "inline", ProblemID: 5, Language: model.LanguagePython, SourceCode: "print(1)", TestCases: []model.TestCase{}}
	files := &model.Job{SubmissionID: "files", ProblemID: 5, Language: model.LanguagePython, SourceCode: "print(1)"}
	for _, job := range []*model.Job{inline, files} {
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue %s: %v", job.SubmissionID, err)
		}
	}

	got, ok, err := q.Dequeue(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if !got.MemoryMode() || len(got.TestCases) != 0 {
		t.Fatalf("empty inline set decoded as %#v", got.TestCases)
	}

	got, ok, err = q.Dequeue(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if got.MemoryMode() {
		t.Fatalf("file-mode job decoded with cases %#v", got.TestCases)
	}
}
