package service

import (
	"context"
	"fmt"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/judge/callback"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/queue"
	"codejudger/internal/judge/repository"
	"codejudger/internal/judge/sandbox"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	validation "github.com/go-ozzo/ozzo-validation/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ArchiveReader looks up verdicts that have aged out of the status store.
type ArchiveReader interface {
	Get(ctx context.Context, submissionID string) (model.StatusRecord, error)
}

// SubmissionService is the ingress side: it accepts jobs, answers status
// queries and re-judges stored submissions.
type SubmissionService struct {
	statusRepo    *repository.StatusRepository
	jobs          *queue.JobQueue
	languages     *sandbox.LanguageSet
	signer        *callback.Signer
	archive       ArchiveReader
	defaults      model.LimitDefaults
	maxQueueDepth int64
	statusTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// SubmissionConfig holds ingress dependencies and settings.
type SubmissionConfig struct {
	StatusRepo *repository.StatusRepository
	Jobs       *queue.JobQueue
	Languages  *sandbox.LanguageSet

	// Signer mints callback tokens; nil disables minting.
	Signer *callback.Signer
	// Archive is consulted when the status store has no record; optional.
	Archive ArchiveReader

	Defaults      model.LimitDefaults
	MaxQueueDepth int64 // 0 means unbounded
	StatusTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

// NewSubmissionService creates the ingress service.
func NewSubmissionService(cfg SubmissionConfig) (*SubmissionService, error) {
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language set is required")
	}
	if cfg.Defaults == (model.LimitDefaults{}) {
		cfg.Defaults = model.BuiltinLimitDefaults()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &SubmissionService{
		statusRepo:    cfg.StatusRepo,
		jobs:          cfg.Jobs,
		languages:     cfg.Languages,
		signer:        cfg.Signer,
		archive:       cfg.Archive,
		defaults:      cfg.Defaults,
		maxQueueDepth: cfg.MaxQueueDepth,
		statusTimeout: cfg.StatusTimeout,
		now:           cfg.Now,
		newID:         cfg.NewID,
	}, nil
}

// Submit assigns a fresh id to job and enqueues it.
func (s *SubmissionService) Submit(ctx context.Context, job *model.Job) (string, error) {
	id := s.newID()
	if err := s.SubmitWithID(ctx, id, job); err != nil {
		return "", err
	}
	return id, nil
}

// SubmitWithID enqueues job under a caller-assigned id. Resubmitting an id
// overwrites its record and judges it again.
func (s *SubmissionService) SubmitWithID(ctx context.Context, submissionID string, job *model.Job) error {
	if job == nil {
		return errors.BadRequest("job is required")
	}
	job.SubmissionID = submissionID
	if err := s.validate(job); err != nil {
		return err
	}
	if err := s.checkCapacity(ctx); err != nil {
		return err
	}

	job.Limitations = job.Limitations.WithDefaults(s.defaults)
	job.CreatedAt = s.now().UTC()
	if job.CallbackURL != "" && job.CallbackToken == "" && s.signer != nil {
		token, err := s.signer.Mint(submissionID)
		if err != nil {
			return err
		}
		job.CallbackToken = token
	}

	raw, err := queue.Encode(job)
	if err != nil {
		return err
	}
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()
	err = s.statusRepo.CreatePending(ctxStatus, job, func(pipe cache.Pipeliner) error {
		pipe.RPush(s.jobs.Key(), raw)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, errors.SubmissionEnqueue, "enqueue submission %s", submissionID)
	}
	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submissionID),
		zap.String("language", string(job.Language)),
		zap.Bool("inline_cases", job.MemoryMode()),
		zap.Int64("problem_id", job.ProblemID),
	)
	return nil
}

// Rejudge resets a stored submission to Pending and enqueues it again.
// Concurrent re-judges only duplicate work; the last verdict written wins.
func (s *SubmissionService) Rejudge(ctx context.Context, submissionID string) error {
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()

	job, err := s.statusRepo.LoadJob(ctxStatus, submissionID)
	if err != nil {
		return err
	}
	if job.CallbackURL != "" && s.signer != nil && callback.Expired(s.signer.Verify(job.CallbackToken, submissionID)) {
		// Refresh our own expired token so the receiver can still verify it.
		if token, err := s.signer.Mint(submissionID); err == nil {
			job.CallbackToken = token
		}
	}
	raw, err := queue.Encode(job)
	if err != nil {
		return err
	}
	err = s.statusRepo.ResetPending(ctxStatus, job, func(pipe cache.Pipeliner) error {
		pipe.RPush(s.jobs.Key(), raw)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, errors.SubmissionEnqueue, "re-enqueue submission %s", submissionID)
	}
	logger.Info(ctx, "submission re-judge queued", zap.String("submission_id", submissionID))
	return nil
}

func (s *SubmissionService) validate(job *model.Job) error {
	if job.Language != "" {
		if _, ok := s.languages.Lookup(job.Language); !ok {
			return errors.Newf(errors.LanguageNotSupported, "language %q is not supported", job.Language)
		}
	}
	if err := job.Validate(); err != nil {
		appErr := errors.New(errors.ValidationFailed).WithMessage(err.Error())
		if fields, ok := err.(validation.Errors); ok {
			for field, fieldErr := range fields {
				appErr.WithDetail(field, fieldErr.Error())
			}
		}
		return appErr
	}
	return nil
}

func (s *SubmissionService) checkCapacity(ctx context.Context) error {
	if s.maxQueueDepth <= 0 {
		return nil
	}
	depth, err := s.jobs.Depth(ctx)
	if err != nil {
		return err
	}
	if depth >= s.maxQueueDepth {
		return errors.Newf(errors.JudgeQueueFull, "judge queue holds %d jobs", depth)
	}
	return nil
}

func (s *SubmissionService) withStatusTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statusTimeout > 0 {
		return context.WithTimeout(ctx, s.statusTimeout)
	}
	return ctx, func() {}
}
