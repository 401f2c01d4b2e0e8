package service

import (
	"context"

	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	"go.uber.org/zap"
)

// GetStatus returns the current record of a submission. Records that expired
// from the status store are served from the archive when one is configured.
func (s *SubmissionService) GetStatus(ctx context.Context, submissionID string) (model.StatusRecord, error) {
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()

	rec, err := s.statusRepo.Get(ctxStatus, submissionID)
	if err == nil || s.archive == nil || !errors.Is(err, errors.SubmissionNotFound) {
		return rec, err
	}
	archived, archErr := s.archive.Get(ctx, submissionID)
	if archErr != nil {
		if !errors.Is(archErr, errors.SubmissionNotFound) {
			logger.Warn(ctx, "archive lookup failed", zap.String("submission_id", submissionID), zap.Error(archErr))
		}
		return model.StatusRecord{}, err
	}
	return archived, nil
}
