package harness_test

import (
	"strings"
	"testing"

	"codejudger/internal/judge/harness"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/sandbox"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"5\n", "5"},
		{"1 2 \r\n3\t\r\n\r\n", "1 2\n3"},
		{"", ""},
		{"  lead\n", "  lead"},
	}
	for _, tt := range tests {
		if got := harness.Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	lim := sandbox.Limits{OutputKB: 1}
	exited := func(r sandbox.RunResult) sandbox.RunResult {
		r.Exited = true
		return r
	}
	tests := []struct {
		name     string
		res      sandbox.RunResult
		expected string
		want     model.Status
	}{
		{"accepted modulo whitespace", exited(sandbox.RunResult{Stdout: "6 \r\n"}), "6\n\n", model.StatusAC},
		{"wrong answer", exited(sandbox.RunResult{Stdout: "5\n"}), "6\n", model.StatusWA},
		{"no record with kill", sandbox.RunResult{Diagnostic: "killed by host timeout"}, "", model.StatusTLE},
		{"no record otherwise", sandbox.RunResult{Diagnostic: "box vanished"}, "", model.StatusRE},
		{"no record ignores flags", sandbox.RunResult{OOMKilled: true, OutputExceeded: true}, "", model.StatusRE},
		{"timeout beats oom", exited(sandbox.RunResult{TimedOut: true, OOMKilled: true}), "", model.StatusTLE},
		{"oom beats output", exited(sandbox.RunResult{OOMKilled: true, OutputExceeded: true}), "", model.StatusMLE},
		{"output signal", exited(sandbox.RunResult{OutputExceeded: true, Signal: 25}), "", model.StatusOLE},
		{"output over limit", exited(sandbox.RunResult{Stdout: strings.Repeat("x", 1025)}), "", model.StatusOLE},
		{"nonzero exit", exited(sandbox.RunResult{ExitCode: 1, Stdout: "6"}), "6", model.StatusRE},
		{"signal", exited(sandbox.RunResult{Signal: 11}), "", model.StatusRE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := harness.Classify(tt.res, tt.expected, lim); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()
	cases := func(statuses ...model.Status) []model.CaseResult {
		out := make([]model.CaseResult, len(statuses))
		for i, s := range statuses {
			out[i] = model.CaseResult{Status: s}
		}
		return out
	}
	tests := []struct {
		name      string
		in        []model.CaseResult
		wantState model.Status
		wantScore float64
	}{
		{"empty", nil, model.StatusIE, 0},
		{"all accepted", cases(model.StatusAC, model.StatusAC), model.StatusAC, 100},
		{"runtime error wins", cases(model.StatusTLE, model.StatusRE, model.StatusWA, model.StatusMLE), model.StatusRE, 0},
		{"memory over output", cases(model.StatusAC, model.StatusOLE, model.StatusMLE), model.StatusMLE, 33.33},
		{"output over wrong", cases(model.StatusWA, model.StatusOLE), model.StatusOLE, 0},
		{"wrong over time", cases(model.StatusAC, model.StatusTLE, model.StatusWA), model.StatusWA, 33.33},
		{"time only", cases(model.StatusAC, model.StatusTLE, model.StatusAC), model.StatusTLE, 66.67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, score := harness.Aggregate(tt.in)
			if status != tt.wantState || score != tt.wantScore {
				t.Fatalf("got %s %.2f, want %s %.2f", status, score, tt.wantState, tt.wantScore)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	got := harness.Diff("6\n", "5\n", 0)
	want := "Line 1:\n  Expected: 6\n  Actual:   5"
	if got != want {
		t.Fatalf("diff = %q, want %q", got, want)
	}

	got = harness.Diff("a\nb\n", "a\n", 0)
	if got != "Line 2:\n  Expected: b\n  Actual:   <no line>" {
		t.Fatalf("missing line diff = %q", got)
	}
}

func TestDiffIsBounded(t *testing.T) {
	t.Parallel()
	var exp, act strings.Builder
	for i := 0; i < 500; i++ {
		exp.WriteString("expected line\n")
		act.WriteString("actual line\n")
	}
	for _, limit := range []int{harness.MaxDiffLen, 200, 40} {
		got := harness.Diff(exp.String(), act.String(), limit)
		if len(got) > limit {
			t.Fatalf("diff length %d exceeds %d", len(got), limit)
		}
		if !strings.HasSuffix(got, "[diff truncated]") {
			t.Fatalf("expected truncation marker, got %q", got[max(0, len(got)-40):])
		}
	}
}
