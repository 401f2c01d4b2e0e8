package harness_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codejudger/internal/judge/harness"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/sandbox"
)

// echoDriver stands in for a sandbox: a program "echoes" its input through
// transform, and the compiler fails when the source contains "syntax error".
type echoDriver struct {
	files     map[string]string
	transform func(string) string
	runs      []sandbox.RunRequest
	runErr    error
}

func newEchoDriver(transform func(string) string) *echoDriver {
	return &echoDriver{files: map[string]string{}, transform: transform}
}

func (d *echoDriver) Name() string                               { return "echo" }
func (d *echoDriver) Supports(*sandbox.Language) bool            { return true }
func (d *echoDriver) Prepare(ctx context.Context, box int) error { return nil }
func (d *echoDriver) Cleanup(ctx context.Context, box int) error { return nil }

func (d *echoDriver) WriteFile(ctx context.Context, box int, name string, data []byte) error {
	d.files[name] = string(data)
	return nil
}

func (d *echoDriver) Compile(ctx context.Context, box int, lang *sandbox.Language, source string) (sandbox.CompileResult, error) {
	d.files[lang.SourceFile] = source
	if strings.Contains(source, "syntax error") {
		return sandbox.CompileResult{Message: "main.cpp:1:1: error: syntax error"}, nil
	}
	return sandbox.CompileResult{OK: true}, nil
}

func (d *echoDriver) RunOne(ctx context.Context, box int, req sandbox.RunRequest) (sandbox.RunResult, error) {
	if d.runErr != nil {
		return sandbox.RunResult{}, d.runErr
	}
	d.runs = append(d.runs, req)
	var in string
	if req.InputFromData {
		data, err := os.ReadFile(filepath.Join(req.DataDir, req.Input))
		if err != nil {
			return sandbox.RunResult{}, err
		}
		in = string(data)
	} else {
		in = d.files[req.Input]
	}
	return sandbox.RunResult{Exited: true, Stdout: d.transform(in), TimeMs: 12, MemoryKB: 3400}, nil
}

func language(t *testing.T, id model.Language) *sandbox.Language {
	t.Helper()
	set, err := sandbox.NewLanguageSet(nil)
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	lang, ok := set.Lookup(id)
	if !ok {
		t.Fatalf("language %s missing", id)
	}
	return lang
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func judge(t *testing.T, d sandbox.Driver, lang *sandbox.Language, source string, src harness.Source) model.Verdict {
	t.Helper()
	h := harness.New(harness.WithClock(func() time.Time { return fixedNow }))
	v, err := h.Judge(context.Background(), harness.Request{
		Driver:   d,
		Box:      100,
		Language: lang,
		Source:   source,
		Cases:    src,
		Limits:   model.Limits{}.WithDefaults(model.BuiltinLimitDefaults()),
	})
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	return v
}

func TestJudgeEchoAccepted(t *testing.T) {
	t.Parallel()
	d := newEchoDriver(func(s string) string { return s })
	src := harness.MemorySource{TestCases: []model.TestCase{
		{ID: "1", Input: "1 2\n", Output: "1 2\n"},
		{Input: "hello\n", Output: "hello"},
	}}
	v := judge(t, d, language(t, model.LanguagePython), "print(input())", src)

	if v.Status != model.StatusAC || v.Score != 100 {
		t.Fatalf("expected AC 100, got %s %.2f", v.Status, v.Score)
	}
	if len(v.Cases) != 2 || v.Cases[1].Name != "2" {
		t.Fatalf("unexpected cases: %+v", v.Cases)
	}
	if v.MaxTime != 12 || v.MaxMemory != 3400 || !v.FinishedAt.Equal(fixedNow) {
		t.Fatalf("unexpected usage: %+v", v)
	}
	if d.files["case1.in"] != "1 2\n" || d.runs[0].InputFromData {
		t.Fatalf("inline input not written into the instance")
	}
}

func TestJudgeWrongAnswerCarriesDiff(t *testing.T) {
	t.Parallel()
	d := newEchoDriver(func(string) string { return "5\n" })
	src := harness.MemorySource{TestCases: []model.TestCase{{ID: "1", Input: "2 3\n", Output: "6\n"}}}
	v := judge(t, d, language(t, model.LanguagePython), "print(5)", src)

	if v.Status != model.StatusWA || v.Score != 0 {
		t.Fatalf("expected WA 0, got %s %.2f", v.Status, v.Score)
	}
	if !strings.Contains(v.Cases[0].Diff, "Line 1:\n  Expected: 6\n  Actual:   5") {
		t.Fatalf("unexpected diff %q", v.Cases[0].Diff)
	}
}

func TestJudgeWrongAnswerHonoursDiffLimit(t *testing.T) {
	t.Parallel()
	var exp, act strings.Builder
	for i := 0; i < 50; i++ {
		exp.WriteString("expected line\n")
		act.WriteString("actual line\n")
	}
	d := newEchoDriver(func(string) string { return act.String() })
	src := harness.MemorySource{TestCases: []model.TestCase{{ID: "1", Input: "x", Output: exp.String()}}}

	h := harness.New(harness.WithMaxDiffLen(120))
	v, err := h.Judge(context.Background(), harness.Request{
		Driver:   d,
		Language: language(t, model.LanguagePython),
		Source:   "pass",
		Cases:    src,
		Limits:   model.Limits{}.WithDefaults(model.BuiltinLimitDefaults()),
	})
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	diff := v.Cases[0].Diff
	if v.Status != model.StatusWA || len(diff) > 120 || !strings.HasSuffix(diff, "[diff truncated]") {
		t.Fatalf("diff not bounded by the configured limit (%d bytes): %q", len(diff), diff)
	}
}

func TestJudgeCompileError(t *testing.T) {
	t.Parallel()
	d := newEchoDriver(func(s string) string { return s })
	src := harness.MemorySource{TestCases: []model.TestCase{{Input: "1", Output: "1"}}}
	v := judge(t, d, language(t, model.LanguageCPP), "int main( { syntax error", src)

	if v.Status != model.StatusCE || v.Score != 0 || len(v.Cases) != 0 {
		t.Fatalf("expected CE without cases, got %+v", v)
	}
	if !strings.Contains(v.Message, "syntax error") || len(d.runs) != 0 {
		t.Fatalf("unexpected CE verdict %+v (runs %d)", v, len(d.runs))
	}
}

func TestJudgeNoCasesIsInternalError(t *testing.T) {
	t.Parallel()
	d := newEchoDriver(func(s string) string { return s })
	v := judge(t, d, language(t, model.LanguagePython), "pass", harness.MemorySource{TestCases: []model.TestCase{}})
	if v.Status != model.StatusIE || v.Score != 0 {
		t.Fatalf("expected IE, got %+v", v)
	}
}

func TestJudgeSandboxFailureIsError(t *testing.T) {
	t.Parallel()
	d := newEchoDriver(func(s string) string { return s })
	d.runErr = os.ErrPermission
	h := harness.New()
	_, err := h.Judge(context.Background(), harness.Request{
		Driver:   d,
		Language: language(t, model.LanguagePython),
		Source:   "pass",
		Cases:    harness.MemorySource{TestCases: []model.TestCase{{Input: "1", Output: "1"}}},
		Limits:   model.Limits{}.WithDefaults(model.BuiltinLimitDefaults()),
	})
	if err == nil {
		t.Fatalf("expected sandbox error")
	}
}

func TestFileSourceDiscovery(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "42")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"2.in":      "2",
		"2.out":     "4",
		"1.in":      "1",
		"1.out":     "2",
		"3.in":      "orphan",
		"._1.in":    "junk",
		"._1.out":   "junk",
		"notes.txt": "ignored",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	src := harness.FileSource{Root: root, ProblemID: 42}
	cases, err := src.Cases(context.Background())
	if err != nil {
		t.Fatalf("cases: %v", err)
	}
	if len(cases) != 2 || cases[0].Name != "1" || cases[1].Name != "2" {
		t.Fatalf("unexpected cases %+v", cases)
	}
	if !cases[0].FromData || cases[0].InputFile != "1.in" || cases[1].Expected != "4" {
		t.Fatalf("unexpected case fields %+v", cases[0])
	}
	if src.DataDir() != dir {
		t.Fatalf("data dir = %s", src.DataDir())
	}

	// Doubling the input never matches the expected output.
	d := newEchoDriver(func(s string) string { return s + s })
	v := judge(t, d, language(t, model.LanguagePython), "x", src)
	if v.Status != model.StatusWA || v.Score != 0 {
		t.Fatalf("expected WA, got %s %.2f", v.Status, v.Score)
	}
	if d.runs[0].DataDir != dir || d.runs[0].Input != "1.in" {
		t.Fatalf("fixture not mounted: %+v", d.runs[0])
	}
}

func TestFileSourceMissingProblem(t *testing.T) {
	t.Parallel()
	_, err := harness.FileSource{Root: t.TempDir(), ProblemID: 7}.Cases(context.Background())
	if err == nil {
		t.Fatalf("expected missing fixtures error")
	}
}
