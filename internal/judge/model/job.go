package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v3"
	"github.com/go-ozzo/ozzo-validation/v3/is"
)

// Language is a supported submission language.
type Language string

const (
	LanguagePython Language = "python"
	LanguageCPP    Language = "cpp"
	LanguageJava   Language = "java"
)

const (
	DefaultTimeLimit     = 2.0  // seconds
	DefaultMemoryLimitMB = 256  // MB
	DefaultOutputLimitKB = 4096 // KB

	MaxSourceBytes = 256 << 10
)

// Limits are per-test-case resource limits.
type Limits struct {
	MaxTime   float64 `json:"maxTime,omitempty"`   // seconds
	MaxMemory int64   `json:"maxMemory,omitempty"` // MB
	MaxOutput int64   `json:"maxOutput,omitempty"` // KB
}

// LimitDefaults supplies values for absent limits.
type LimitDefaults struct {
	TimeLimit     float64
	MemoryLimitMB int64
	OutputLimitKB int64
}

// BuiltinLimitDefaults returns the stock limit defaults.
func BuiltinLimitDefaults() LimitDefaults {
	return LimitDefaults{
		TimeLimit:     DefaultTimeLimit,
		MemoryLimitMB: DefaultMemoryLimitMB,
		OutputLimitKB: DefaultOutputLimitKB,
	}
}

// WithDefaults fills zero fields from d.
func (l Limits) WithDefaults(d LimitDefaults) Limits {
	if l.MaxTime <= 0 {
		l.MaxTime = d.TimeLimit
	}
	if l.MaxMemory <= 0 {
		l.MaxMemory = d.MemoryLimitMB
	}
	if l.MaxOutput <= 0 {
		l.MaxOutput = d.OutputLimitKB
	}
	return l
}

// TimeLimit returns MaxTime as a duration.
func (l Limits) TimeLimit() time.Duration {
	return time.Duration(l.MaxTime * float64(time.Second))
}

// Validate checks limits are non-negative and below hard ceilings.
func (l Limits) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.MaxTime, validation.Min(0.0), validation.Max(60.0)),
		validation.Field(&l.MaxMemory, validation.Min(int64(0)), validation.Max(int64(8192))),
		validation.Field(&l.MaxOutput, validation.Min(int64(0)), validation.Max(int64(1<<20))),
	)
}

// CaseID is a test case identifier that accepts JSON numbers or strings.
type CaseID string

func (c *CaseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CaseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("case id must be a string or number: %w", err)
	}
	*c = CaseID(n.String())
	return nil
}

// TestCase is one input / expected-output pair.
type TestCase struct {
	ID     CaseID `json:"id,omitempty"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Job is the unit of work placed on the queue.
type Job struct {
	SubmissionID  string     `json:"submission_id"`
	ProblemID     int64      `json:"problem_id,omitempty"`
	Language      Language   `json:"language"`
	SourceCode    string     `json:"source_code"`
	TestCases     []TestCase `json:"test_cases"` // null selects file mode, [] is an inline set with no cases
	Limitations   Limits     `json:"limitations"`
	CallbackURL   string     `json:"callback_url,omitempty"`
	CallbackToken string     `json:"callback_token,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MemoryMode reports whether the job carries inline test cases.
func (j *Job) MemoryMode() bool {
	return j.TestCases != nil
}

// CaseName returns the name of the i-th inline case, defaulting to its 1-based position.
func CaseName(tc TestCase, i int) string {
	if tc.ID != "" {
		return string(tc.ID)
	}
	return strconv.Itoa(i + 1)
}

// Validate checks the producer-supplied fields.
// File-mode jobs need a problem id; memory-mode jobs carry their own cases.
func (j *Job) Validate() error {
	err := validation.ValidateStruct(j,
		validation.Field(&j.SubmissionID, validation.Required, validation.Length(1, 128)),
		validation.Field(&j.Language, validation.Required,
			validation.In(LanguagePython, LanguageCPP, LanguageJava)),
		validation.Field(&j.SourceCode, validation.Required, validation.Length(1, MaxSourceBytes)),
		validation.Field(&j.ProblemID, validation.Min(int64(0))),
		validation.Field(&j.Limitations),
		validation.Field(&j.CallbackURL, is.URL),
	)
	if err != nil {
		return err
	}
	if !j.MemoryMode() && j.ProblemID == 0 {
		return validation.Errors{"problem_id": errors.New("cannot be blank")}
	}
	seen := make(map[string]int, len(j.TestCases))
	for i, tc := range j.TestCases {
		name := CaseName(tc, i)
		if prev, dup := seen[name]; dup {
			return validation.Errors{"test_cases": fmt.Errorf("case %d reuses the name %q of case %d", i+1, name, prev+1)}
		}
		seen[name] = i
	}
	return nil
}
