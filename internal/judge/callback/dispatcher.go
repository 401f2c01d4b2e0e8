package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"codejudger/internal/common/mq"
	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config tunes delivery.
type Config struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	Concurrency int           `yaml:"concurrency"`
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
}

// Dispatcher PUTs callback payloads in the background. Terminal payloads are
// retried with exponential backoff; the early Judging notice is tried once.
// Failures are logged and dropped.
//
// Deliveries for one submission run in Send order: a payload is not sent
// until every earlier payload for the same submission has finished.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	limiter *mq.TokenLimiter
	wg      sync.WaitGroup

	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewDispatcher(cfg Config, client *http.Client) *Dispatcher {
	cfg.setDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Dispatcher{
		cfg:     cfg,
		client:  client,
		limiter: mq.NewTokenLimiter(cfg.Concurrency),
		tails:   make(map[string]chan struct{}),
	}
}

// Send schedules delivery and returns immediately.
func (d *Dispatcher) Send(ctx context.Context, url string, payload model.CallbackPayload) {
	if url == "" {
		return
	}
	bg := context.WithoutCancel(ctx)
	prev, done := d.enqueue(payload.SubmissionID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.finish(payload.SubmissionID, done)
		if prev != nil {
			<-prev
		}
		if err := d.limiter.Acquire(bg); err != nil {
			return
		}
		defer d.limiter.Release()

		attempts := 1
		if payload.Status.IsTerminal() {
			attempts = d.cfg.MaxAttempts
		}
		if err := d.Deliver(bg, url, payload, attempts); err != nil {
			logger.Warn(bg, "callback dropped",
				zap.String("url", url),
				zap.String("status", string(payload.Status)),
				zap.Error(err),
			)
		}
	}()
}

// enqueue makes done the new tail of the submission's chain and returns the
// previous tail, if any.
func (d *Dispatcher) enqueue(submissionID string) (prev, done chan struct{}) {
	done = make(chan struct{})
	d.mu.Lock()
	prev = d.tails[submissionID]
	d.tails[submissionID] = done
	d.mu.Unlock()
	return prev, done
}

func (d *Dispatcher) finish(submissionID string, done chan struct{}) {
	d.mu.Lock()
	if d.tails[submissionID] == done {
		delete(d.tails, submissionID)
	}
	d.mu.Unlock()
	close(done)
}

// Deliver performs up to attempts PUT requests. Client errors other than 408
// and 429 are not retried.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload model.CallbackPayload, attempts int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, errors.CallbackFailed, "encode callback payload")
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := mq.ComputeBackoff(attempt-1, d.cfg.BaseDelay, d.cfg.MaxDelay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		retry, err := d.put(ctx, url, body, payload.CallbackToken)
		if err == nil {
			logger.Debug(ctx, "callback delivered", zap.String("url", url), zap.Int("attempt", attempt+1))
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return errors.Wrapf(lastErr, errors.CallbackFailed, "deliver callback to %s", url)
}

func (d *Dispatcher) put(ctx context.Context, url string, body []byte, token string) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return true, fmt.Errorf("callback returned %s", resp.Status)
	default:
		return false, fmt.Errorf("callback rejected with %s", resp.Status)
	}
}

// Close waits for in-flight deliveries or until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
