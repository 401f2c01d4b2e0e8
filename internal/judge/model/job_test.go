package model_test

import (
	"encoding/json"
	"strings"
	"testing"

	"codejudger/internal/judge/model"
)

func TestJobValidate(t *testing.T) {
	t.Parallel()
	base := func() model.Job {
		return model.Job{
			SubmissionID: "sub-1",
			ProblemID:    1,
			Language:     model.LanguagePython,
			SourceCode:   "print(1)",
		}
	}
	cases := []struct {
		name    string
		mutate  func(j *model.Job)
		wantErr string
	}{
		{name: "file mode ok", mutate: func(j *model.Job) {}},
		{name: "memory mode without problem", mutate: func(j *model.Job) {
			j.ProblemID = 0
			j.TestCases = []model.TestCase{{Input: "1", Output: "1"}}
		}},
		{name: "missing problem in file mode", mutate: func(j *model.Job) { j.ProblemID = 0 }, wantErr: "problem_id"},
		{name: "unsupported language", mutate: func(j *model.Job) { j.Language = "rust" }, wantErr: "language"},
		{name: "empty source", mutate: func(j *model.Job) { j.SourceCode = "" }, wantErr: "source_code"},
		{name: "bad callback", mutate: func(j *model.Job) { j.CallbackURL = "::not a url" }, wantErr: "callback_url"},
		{name: "duplicate case ids", mutate: func(j *model.Job) {
			j.TestCases = []model.TestCase{{ID: "a", Input: "1", Output: "1"}, {ID: "a", Input: "2", Output: "2"}}
		}, wantErr: "test_cases"},
		{name: "case id shadows a position", mutate: func(j *model.Job) {
			j.TestCases = []model.TestCase{{ID: "2", Input: "1", Output: "1"}, {Input: "2", Output: "2"}}
		}, wantErr: "test_cases"},
		{name: "empty inline set", mutate: func(j *model.Job) { j.TestCases = []model.TestCase{} }},
		{name: "negative time", mutate: func(j *model.Job) { j.Limitations.MaxTime = -1 }, wantErr: "maxTime"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			job := base()
			tc.mutate(&job)
			err := job.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLimitsWithDefaults(t *testing.T) {
	t.Parallel()
	got := model.Limits{MaxTime: 0.5}.WithDefaults(model.BuiltinLimitDefaults())
	if got.MaxTime != 0.5 || got.MaxMemory != 256 || got.MaxOutput != 4096 {
		t.Fatalf("unexpected limits: %+v", got)
	}
	if got.TimeLimit().Milliseconds() != 500 {
		t.Fatalf("expected 500ms, got %v", got.TimeLimit())
	}
}

func TestTestCaseIDAcceptsNumbers(t *testing.T) {
	t.Parallel()
	var cases []model.TestCase
	raw := `[{"id":3,"input":"1","output":"1"},{"id":"edge","input":"","output":""},{"input":"x","output":"x"}]`
	if err := json.Unmarshal([]byte(raw), &cases); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	want := []string{"3", "edge", "3"}
	for i, tc := range cases {
		if got := model.CaseName(tc, i); got != want[i] {
			t.Fatalf("case %d: expected name %q, got %q", i, want[i], got)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()
	if model.StatusPending.IsTerminal() || model.StatusJudging.IsTerminal() {
		t.Fatalf("pending/judging must not be terminal")
	}
	for _, s := range []model.Status{model.StatusAC, model.StatusCE, model.StatusIE} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s terminal", s)
		}
	}
}
