package service

import (
	"context"
	"fmt"
	"time"

	"codejudger/internal/judge/harness"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/repository"
	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/observer"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/contextkey"
	"codejudger/pkg/utils/logger"

	"go.uber.org/zap"
)

// CallbackSender delivers callback payloads in the background.
type CallbackSender interface {
	Send(ctx context.Context, url string, payload model.CallbackPayload)
}

// FixtureSyncer makes a problem's test data available locally.
type FixtureSyncer interface {
	Ensure(ctx context.Context, problemID int64) error
}

// VerdictArchive keeps terminal records beyond the status store TTL.
type VerdictArchive interface {
	Save(ctx context.Context, rec model.StatusRecord) error
}

// JudgeService runs one job end to end on a worker's instance.
type JudgeService struct {
	backends      []sandbox.Driver
	languages     *sandbox.LanguageSet
	harness       *harness.Harness
	statusRepo    *repository.StatusRepository
	publisher     repository.StatusEventPublisher
	archive       VerdictArchive
	callbacks     CallbackSender
	fixtures      FixtureSyncer
	metrics       observer.MetricsRecorder
	dataRoot      string
	defaults      model.LimitDefaults
	statusTimeout time.Duration
	now           func() time.Time
}

// JudgeConfig holds worker-side dependencies and settings.
type JudgeConfig struct {
	// Backends are tried in order for each language.
	Backends   []sandbox.Driver
	Languages  *sandbox.LanguageSet
	Harness    *harness.Harness
	StatusRepo *repository.StatusRepository

	// Optional collaborators.
	Publisher repository.StatusEventPublisher
	Archive   VerdictArchive
	Callbacks CallbackSender
	Fixtures  FixtureSyncer
	Metrics   observer.MetricsRecorder

	DataRoot      string
	Defaults      model.LimitDefaults
	StatusTimeout time.Duration
	Now           func() time.Time
}

// NewJudgeService creates the worker-side service.
func NewJudgeService(cfg JudgeConfig) (*JudgeService, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("at least one sandbox backend is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language set is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.Harness == nil {
		cfg.Harness = harness.New(harness.WithMetrics(cfg.Metrics))
	}
	if cfg.Defaults == (model.LimitDefaults{}) {
		cfg.Defaults = model.BuiltinLimitDefaults()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JudgeService{
		backends:      cfg.Backends,
		languages:     cfg.Languages,
		harness:       cfg.Harness,
		statusRepo:    cfg.StatusRepo,
		publisher:     cfg.Publisher,
		archive:       cfg.Archive,
		callbacks:     cfg.Callbacks,
		fixtures:      cfg.Fixtures,
		metrics:       cfg.Metrics,
		dataRoot:      cfg.DataRoot,
		defaults:      cfg.Defaults,
		statusTimeout: cfg.StatusTimeout,
		now:           cfg.Now,
	}, nil
}

// Process judges job on instance box and records the outcome. Every failure
// while judging becomes an IE verdict, which is persisted and delivered like
// any other. The returned error only reports that the verdict could not be stored.
func (s *JudgeService) Process(ctx context.Context, box int, job *model.Job) (model.Verdict, error) {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)
	start := s.now()

	if err := s.withStatusTimeout(ctx, func(c context.Context) error {
		return s.statusRepo.MarkJudging(c, job.SubmissionID)
	}); err != nil {
		logger.Warn(ctx, "mark judging failed", zap.Error(err))
	}
	if job.CallbackURL != "" && s.callbacks != nil {
		s.callbacks.Send(ctx, job.CallbackURL, model.JudgingPayload(job.SubmissionID, job.CallbackToken))
	}

	verdict, backend := s.judge(ctx, box, job)
	if verdict.FinishedAt.IsZero() {
		verdict.FinishedAt = s.now()
	}
	if verdict.Cases == nil {
		verdict.Cases = []model.CaseResult{}
	}

	saveErr := s.withStatusTimeout(ctx, func(c context.Context) error {
		return s.statusRepo.SaveVerdict(c, job.SubmissionID, verdict)
	})
	if saveErr != nil {
		logger.Error(ctx, "store verdict failed", zap.Error(saveErr))
	}

	rec := model.StatusRecord{SubmissionID: job.SubmissionID, CreatedAt: job.CreatedAt}
	rec.ApplyVerdict(verdict)
	if s.publisher != nil {
		if err := s.publisher.PublishFinalStatus(ctx, rec); err != nil {
			logger.Warn(ctx, "publish final status failed", zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.Save(ctx, rec); err != nil {
			logger.Warn(ctx, "archive verdict failed", zap.Error(err))
		}
	}
	if job.CallbackURL != "" && s.callbacks != nil {
		s.callbacks.Send(ctx, job.CallbackURL, model.FinalPayload(job.SubmissionID, job.CallbackToken, verdict))
	}

	elapsed := s.now().Sub(start)
	s.metrics.ObserveJudge(ctx, backend, string(verdict.Status), elapsed)
	logger.Info(ctx, "submission judged",
		zap.String("status", string(verdict.Status)),
		zap.Float64("score", verdict.Score),
		zap.String("backend", backend),
		zap.Int("box", box),
		zap.Duration("elapsed", elapsed),
	)
	return verdict, saveErr
}

// judge never fails: errors and panics are folded into an IE verdict.
func (s *JudgeService) judge(ctx context.Context, box int, job *model.Job) (verdict model.Verdict, backend string) {
	backend = "none"
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge panicked", zap.Any("panic", r), zap.Stack("stack"))
			verdict = model.InternalErrorVerdict(fmt.Sprintf("internal error: %v", r), s.now())
		}
	}()

	fail := func(err error) model.Verdict {
		logger.Error(ctx, "judge failed", zap.Int("code", int(errors.GetCode(err))), zap.Error(err))
		if errors.Is(err, errors.SandboxError) || errors.Is(err, errors.SandboxUnavailable) {
			s.metrics.ObserveSandboxError(ctx, backend)
		}
		return model.InternalErrorVerdict(fmt.Sprintf("internal error: %v", err), s.now())
	}

	lang, ok := s.languages.Lookup(job.Language)
	if !ok {
		return fail(errors.Newf(errors.LanguageNotSupported, "language %q is not supported", job.Language)), backend
	}
	driver, err := sandbox.Select(s.backends, lang)
	if err != nil {
		return fail(err), backend
	}
	backend = driver.Name()

	if !job.MemoryMode() && s.fixtures != nil {
		if err := s.fixtures.Ensure(ctx, job.ProblemID); err != nil {
			return fail(err), backend
		}
	}

	if err := driver.Prepare(ctx, box); err != nil {
		return fail(errors.Wrapf(err, errors.SandboxError, "prepare box %d", box)), backend
	}
	defer func() {
		if err := driver.Cleanup(context.WithoutCancel(ctx), box); err != nil {
			logger.Warn(ctx, "cleanup box failed", zap.Int("box", box), zap.Error(err))
		}
	}()

	verdict, err = s.harness.Judge(ctx, harness.Request{
		Driver:   driver,
		Box:      box,
		Language: lang,
		Source:   job.SourceCode,
		Cases:    harness.SourceFor(job, s.dataRoot),
		Limits:   job.Limitations.WithDefaults(s.defaults),
	})
	if err != nil {
		return fail(err), backend
	}
	return verdict, backend
}

func (s *JudgeService) withStatusTimeout(ctx context.Context, fn func(context.Context) error) error {
	if s.statusTimeout <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, s.statusTimeout)
	defer cancel()
	return fn(c)
}
