// Package worker runs the fixed pool of judge loops.
package worker

import (
	"context"
	"fmt"
	"time"

	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/observer"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/contextkey"
	"codejudger/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dequeuer hands out queued jobs.
type Dequeuer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*model.Job, bool, error)
	Depth(ctx context.Context) (int64, error)
}

// Processor judges one job on one instance.
type Processor interface {
	Process(ctx context.Context, box int, job *model.Job) (model.Verdict, error)
}

// Config sizes the pool.
type Config struct {
	Workers int
	BoxBase int

	PollTimeout   time.Duration // longest single dequeue wait
	BackoffBase   time.Duration // first delay after a queue error
	BackoffMax    time.Duration
	DepthInterval time.Duration // queue depth sampling period, 0 disables
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}
}

// Pool owns Workers loops, each bound to its own instance number.
type Pool struct {
	cfg     Config
	jobs    Dequeuer
	proc    Processor
	metrics observer.MetricsRecorder
	boxes   []int
}

// NewPool validates the configuration and assigns instance numbers.
func NewPool(cfg Config, jobs Dequeuer, proc Processor, metrics observer.MetricsRecorder) (*Pool, error) {
	cfg.setDefaults()
	if jobs == nil || proc == nil {
		return nil, fmt.Errorf("job source and processor are required")
	}
	if cfg.Workers > 1000 {
		return nil, fmt.Errorf("at most 1000 workers fit the instance space, got %d", cfg.Workers)
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	boxes := make([]int, cfg.Workers)
	for i := range boxes {
		boxes[i] = sandbox.BoxID(cfg.BoxBase, i)
	}
	return &Pool{cfg: cfg, jobs: jobs, proc: proc, metrics: metrics, boxes: boxes}, nil
}

// Boxes lists the instance number of each worker.
func (p *Pool) Boxes() []int {
	out := make([]int, len(p.boxes))
	copy(out, p.boxes)
	return out
}

// Run blocks until ctx is cancelled. Jobs already taken off the queue are
// finished before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, box := range p.boxes {
		g.Go(func() error {
			return p.loop(gctx, i, box)
		})
	}
	if p.cfg.DepthInterval > 0 {
		g.Go(func() error {
			p.sampleDepth(gctx)
			return nil
		})
	}
	logger.Info(ctx, "worker pool started", zap.Int("workers", len(p.boxes)), zap.Ints("boxes", p.boxes))
	err := g.Wait()
	logger.Info(ctx, "worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, index, box int) error {
	ctx = context.WithValue(ctx, contextkey.WorkerID, index)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, ok, err := p.jobs.Dequeue(ctx, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, errors.InvalidFormat) {
				logger.Error(ctx, "dropping undecodable job", zap.Error(err))
				continue
			}
			delay := mq.ComputeBackoff(failures, p.cfg.BackoffBase, p.cfg.BackoffMax)
			failures++
			logger.Warn(ctx, "dequeue failed", zap.Error(err), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		failures = 0
		if !ok {
			continue
		}
		// The job runs to completion even if shutdown starts meanwhile.
		if _, err := p.proc.Process(context.WithoutCancel(ctx), box, job); err != nil {
			logger.Error(ctx, "job finished without a stored verdict",
				zap.String("submission_id", job.SubmissionID), zap.Error(err))
		}
	}
}

func (p *Pool) sampleDepth(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.jobs.Depth(ctx)
			if err != nil {
				logger.Debug(ctx, "sample queue depth failed", zap.Error(err))
				continue
			}
			p.metrics.ObserveQueueDepth(ctx, depth)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
