package model

import "time"

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Time    int64  `json:"time"`   // ms
	Memory  int64  `json:"memory"` // KB
	Message string `json:"message"`
	Diff    string `json:"diff,omitempty"`
}

// Verdict is the aggregate judgement of a submission.
type Verdict struct {
	Status     Status       `json:"status"`
	Score      float64      `json:"score"`
	MaxTime    int64        `json:"max_time"`
	MaxMemory  int64        `json:"max_memory"`
	Cases      []CaseResult `json:"cases"`
	Message    string       `json:"message,omitempty"`
	FinishedAt time.Time    `json:"finished_at"`
}

// InternalErrorVerdict builds the IE verdict reported when judging could not complete.
func InternalErrorVerdict(reason string, now time.Time) Verdict {
	return Verdict{
		Status:     StatusIE,
		Score:      0,
		Cases:      []CaseResult{},
		Message:    reason,
		FinishedAt: now,
	}
}

// StatusRecord is the externally visible state of a submission.
type StatusRecord struct {
	SubmissionID string       `json:"submission_id"`
	Status       Status       `json:"status"`
	Score        float64      `json:"score"`
	MaxTime      int64        `json:"max_time"`
	MaxMemory    int64        `json:"max_memory"`
	Result       []CaseResult `json:"result"`
	Message      string       `json:"message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishedAt   *time.Time   `json:"finished_at"`
}

// ApplyVerdict copies a terminal verdict into the record.
func (r *StatusRecord) ApplyVerdict(v Verdict) {
	r.Status = v.Status
	r.Score = v.Score
	r.MaxTime = v.MaxTime
	r.MaxMemory = v.MaxMemory
	r.Result = v.Cases
	r.Message = v.Message
	finished := v.FinishedAt
	r.FinishedAt = &finished
}

// StatusEvent is published when a submission reaches a terminal state.
type StatusEvent struct {
	Type      string       `json:"type"`
	Status    StatusRecord `json:"status"`
	CreatedAt int64        `json:"created_at"`
}

const StatusEventFinal = "final"

// CallbackPayload is the body PUT to a producer's callback URL.
type CallbackPayload struct {
	SubmissionID  string       `json:"submission_id"`
	Status        Status       `json:"status"`
	Score         float64      `json:"score"`
	MaxTime       int64        `json:"max_time"`
	MaxMemory     int64        `json:"max_memory"`
	Detail        []CaseResult `json:"detail"`
	Message       string       `json:"message,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at"`
	CallbackToken string       `json:"callback_token,omitempty"`
}

// JudgingPayload is the early, non-authoritative notification sent when work starts.
func JudgingPayload(submissionID, token string) CallbackPayload {
	return CallbackPayload{
		SubmissionID:  submissionID,
		Status:        StatusJudging,
		Detail:        []CaseResult{},
		CallbackToken: token,
	}
}

// FinalPayload converts a verdict into its callback body.
func FinalPayload(submissionID, token string, v Verdict) CallbackPayload {
	finished := v.FinishedAt
	return CallbackPayload{
		SubmissionID:  submissionID,
		Status:        v.Status,
		Score:         v.Score,
		MaxTime:       v.MaxTime,
		MaxMemory:     v.MaxMemory,
		Detail:        v.Cases,
		Message:       v.Message,
		FinishedAt:    &finished,
		CallbackToken: token,
	}
}
