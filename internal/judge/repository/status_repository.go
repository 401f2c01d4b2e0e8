package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
)

// DefaultKeyPrefix prefixes the per-submission status hash.
const DefaultKeyPrefix = "judge:sub:"

// Hash fields of a submission record.
const (
	fieldStatus     = "status"
	fieldScore      = "score"
	fieldResult     = "result"
	fieldMessage    = "message"
	fieldMaxTime    = "max_time"
	fieldMaxMemory  = "max_memory"
	fieldCreatedAt  = "created_at"
	fieldFinishedAt = "finished_at"
	fieldJob        = "job"
)

// StatusRepository stores submission state in one Redis hash per submission.
// Every write is keyed by submission id, so repeated writes are idempotent.
type StatusRepository struct {
	cache  cache.Cache
	prefix string
	ttl    time.Duration
}

// NewStatusRepository creates a new repository. A zero ttl keeps records forever.
func NewStatusRepository(cacheClient cache.Cache, prefix string, ttl time.Duration) *StatusRepository {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &StatusRepository{cache: cacheClient, prefix: prefix, ttl: ttl}
}

// Key returns the hash key of a submission.
func (r *StatusRepository) Key(submissionID string) string {
	return r.prefix + submissionID
}

// CreatePending writes a fresh Pending record and runs then inside the same
// transaction, which is how the job gets enqueued atomically with its record.
func (r *StatusRepository) CreatePending(ctx context.Context, job *model.Job, then func(cache.Pipeliner) error) error {
	fields, err := pendingFields(job)
	if err != nil {
		return err
	}
	fields[fieldCreatedAt] = job.CreatedAt.UTC().Format(time.RFC3339Nano)
	return r.writePending(ctx, job.SubmissionID, fields, then)
}

// ResetPending rewinds a submission to Pending with score 0 and no result,
// keeping its creation time.
func (r *StatusRepository) ResetPending(ctx context.Context, job *model.Job, then func(cache.Pipeliner) error) error {
	fields, err := pendingFields(job)
	if err != nil {
		return err
	}
	return r.writePending(ctx, job.SubmissionID, fields, then)
}

func pendingFields(job *model.Job) (map[string]any, error) {
	if job == nil || job.SubmissionID == "" {
		return nil, errors.ValidationError("submission_id", "required")
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InternalServerError, "encode job")
	}
	return map[string]any{
		fieldStatus:     string(model.StatusPending),
		fieldScore:      "0",
		fieldResult:     "",
		fieldMessage:    "",
		fieldMaxTime:    "0",
		fieldMaxMemory:  "0",
		fieldFinishedAt: "",
		fieldJob:        string(raw),
	}, nil
}

func (r *StatusRepository) writePending(ctx context.Context, id string, fields map[string]any, then func(cache.Pipeliner) error) error {
	key := r.Key(id)
	err := r.cache.TxPipeline(ctx, func(pipe cache.Pipeliner) error {
		pipe.HMSet(key, fields)
		if r.ttl > 0 {
			pipe.Expire(key, r.ttl)
		}
		if then != nil {
			return then(pipe)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, errors.CacheError, "store pending submission %s", id)
	}
	return nil
}

// MarkJudging records that a worker picked the submission up.
func (r *StatusRepository) MarkJudging(ctx context.Context, submissionID string) error {
	if err := r.cache.HSet(ctx, r.Key(submissionID), fieldStatus, string(model.StatusJudging)); err != nil {
		return errors.Wrapf(err, errors.CacheError, "mark submission %s judging", submissionID)
	}
	return nil
}

// SaveVerdict writes the terminal verdict. Writing the same verdict twice
// leaves the record unchanged.
func (r *StatusRepository) SaveVerdict(ctx context.Context, submissionID string, v model.Verdict) error {
	cases := v.Cases
	if cases == nil {
		cases = []model.CaseResult{}
	}
	result, err := json.Marshal(cases)
	if err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "encode verdict")
	}
	key := r.Key(submissionID)
	if err := r.cache.HMSet(ctx, key, map[string]any{
		fieldStatus:     string(v.Status),
		fieldScore:      strconv.FormatFloat(v.Score, 'f', -1, 64),
		fieldResult:     string(result),
		fieldMessage:    v.Message,
		fieldMaxTime:    strconv.FormatInt(v.MaxTime, 10),
		fieldMaxMemory:  strconv.FormatInt(v.MaxMemory, 10),
		fieldFinishedAt: v.FinishedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return errors.Wrapf(err, errors.CacheError, "store verdict of %s", submissionID)
	}
	if r.ttl > 0 {
		if err := r.cache.Expire(ctx, key, r.ttl); err != nil {
			return errors.Wrapf(err, errors.CacheError, "refresh ttl of %s", submissionID)
		}
	}
	return nil
}

// Get returns the status record of a submission.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.StatusRecord, error) {
	fields, err := r.load(ctx, submissionID)
	if err != nil {
		return model.StatusRecord{}, err
	}
	return decodeRecord(submissionID, fields)
}

// LoadJob returns the job stored alongside the record, used for re-judging.
func (r *StatusRepository) LoadJob(ctx context.Context, submissionID string) (*model.Job, error) {
	fields, err := r.load(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	raw := fields[fieldJob]
	if raw == "" {
		return nil, errors.Newf(errors.SubmissionNotFound, "submission %s has no stored job", submissionID)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, errors.Wrapf(err, errors.CacheError, "decode stored job of %s", submissionID)
	}
	return &job, nil
}

func (r *StatusRepository) load(ctx context.Context, submissionID string) (map[string]string, error) {
	if submissionID == "" {
		return nil, errors.ValidationError("submission_id", "required")
	}
	fields, err := r.cache.HGetAll(ctx, r.Key(submissionID))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CacheError, "load submission %s", submissionID)
	}
	if len(fields) == 0 {
		return nil, errors.Newf(errors.SubmissionNotFound, "submission %s not found", submissionID)
	}
	return fields, nil
}

func decodeRecord(id string, f map[string]string) (model.StatusRecord, error) {
	rec := model.StatusRecord{
		SubmissionID: id,
		Status:       model.Status(f[fieldStatus]),
		Message:      f[fieldMessage],
		Result:       []model.CaseResult{},
	}
	rec.Score, _ = strconv.ParseFloat(f[fieldScore], 64)
	rec.MaxTime, _ = strconv.ParseInt(f[fieldMaxTime], 10, 64)
	rec.MaxMemory, _ = strconv.ParseInt(f[fieldMaxMemory], 10, 64)
	if raw := f[fieldResult]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Result); err != nil {
			return model.StatusRecord{}, errors.Wrapf(err, errors.CacheError, "decode result of %s", id)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, f[fieldCreatedAt]); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, f[fieldFinishedAt]); err == nil {
		rec.FinishedAt = &t
	}
	return rec, nil
}
