package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"codejudger/internal/common/db"
	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
)

// ArchiveSchema creates the verdict archive table.
const ArchiveSchema = `CREATE TABLE IF NOT EXISTS judge_verdicts (
	submission_id VARCHAR(128) NOT NULL PRIMARY KEY,
	status        VARCHAR(16)  NOT NULL,
	score         DOUBLE       NOT NULL,
	max_time      BIGINT       NOT NULL,
	max_memory    BIGINT       NOT NULL,
	result        JSON         NOT NULL,
	message       TEXT         NOT NULL,
	created_at    DATETIME(3)  NULL,
	finished_at   DATETIME(3)  NULL
)`

const (
	upsertVerdictSQL = `INSERT INTO judge_verdicts
	(submission_id, status, score, max_time, max_memory, result, message, created_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE status = VALUES(status), score = VALUES(score), max_time = VALUES(max_time),
	max_memory = VALUES(max_memory), result = VALUES(result), message = VALUES(message),
	finished_at = VALUES(finished_at)`

	selectVerdictSQL = `SELECT status, score, max_time, max_memory, result, message, created_at, finished_at
	FROM judge_verdicts WHERE submission_id = ?`
)

// ArchiveRepository keeps terminal records in MySQL after the Redis hash expires.
type ArchiveRepository struct {
	db db.Database
}

func NewArchiveRepository(database db.Database) *ArchiveRepository {
	return &ArchiveRepository{db: database}
}

// EnsureSchema creates the archive table if it does not exist.
func (r *ArchiveRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, ArchiveSchema); err != nil {
		return errors.Wrapf(err, errors.DatabaseError, "create archive table")
	}
	return nil
}

// Save upserts a terminal record. Re-judged submissions overwrite their row.
func (r *ArchiveRepository) Save(ctx context.Context, rec model.StatusRecord) error {
	if rec.SubmissionID == "" {
		return errors.ValidationError("submission_id", "required")
	}
	result := rec.Result
	if result == nil {
		result = []model.CaseResult{}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "encode archived result")
	}
	_, err = r.db.Exec(ctx, upsertVerdictSQL,
		rec.SubmissionID, string(rec.Status), rec.Score, rec.MaxTime, rec.MaxMemory,
		string(raw), rec.Message, nullTime(&rec.CreatedAt), nullTime(rec.FinishedAt),
	)
	if err != nil {
		return errors.Wrapf(err, errors.DatabaseError, "archive verdict of %s", rec.SubmissionID)
	}
	return nil
}

// Get loads an archived record.
func (r *ArchiveRepository) Get(ctx context.Context, submissionID string) (model.StatusRecord, error) {
	var (
		status   string
		raw      string
		created  sql.NullTime
		finished sql.NullTime
	)
	rec := model.StatusRecord{SubmissionID: submissionID}
	err := r.db.QueryRow(ctx, selectVerdictSQL, submissionID).Scan(
		&status, &rec.Score, &rec.MaxTime, &rec.MaxMemory, &raw, &rec.Message, &created, &finished,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return model.StatusRecord{}, errors.Newf(errors.SubmissionNotFound, "submission %s not found", submissionID)
		}
		return model.StatusRecord{}, errors.Wrapf(err, errors.DatabaseError, "load archived verdict of %s", submissionID)
	}
	rec.Status = model.Status(status)
	if err := json.Unmarshal([]byte(raw), &rec.Result); err != nil {
		return model.StatusRecord{}, errors.Wrapf(err, errors.DatabaseError, "decode archived result of %s", submissionID)
	}
	if created.Valid {
		rec.CreatedAt = created.Time.UTC()
	}
	if finished.Valid {
		t := finished.Time.UTC()
		rec.FinishedAt = &t
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
