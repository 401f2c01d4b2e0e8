package harness

import (
	"context"
	"strconv"
	"strings"
	"time"

	"codejudger/internal/judge/model"
	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/observer"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	"go.uber.org/zap"
)

// Harness compiles a submission once and runs it against every case.
type Harness struct {
	metrics    observer.MetricsRecorder
	maxDiffLen int
	now        func() time.Time
}

// Option customises a Harness.
type Option func(*Harness)

// WithMetrics sets the metrics recorder.
func WithMetrics(m observer.MetricsRecorder) Option {
	return func(h *Harness) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithMaxDiffLen overrides MaxDiffLen.
func WithMaxDiffLen(n int) Option {
	return func(h *Harness) { h.maxDiffLen = n }
}

// WithClock overrides the clock used for FinishedAt.
func WithClock(now func() time.Time) Option {
	return func(h *Harness) { h.now = now }
}

func New(opts ...Option) *Harness {
	h := &Harness{metrics: observer.NoopMetricsRecorder{}, maxDiffLen: MaxDiffLen, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Request is everything needed to judge one submission on one instance.
type Request struct {
	Driver   sandbox.Driver
	Box      int
	Language *sandbox.Language
	Source   string
	Cases    Source
	Limits   model.Limits
}

// RunLimits converts producer limits into sandbox limits.
func RunLimits(l model.Limits, lang *sandbox.Language) sandbox.Limits {
	return sandbox.Limits{
		Time:      l.TimeLimit(),
		MemoryKB:  l.MaxMemory * 1024,
		OutputKB:  l.MaxOutput,
		Processes: 1 + lang.ExtraProcesses,
	}
}

// Judge compiles and runs the submission. The instance must already be
// prepared. A returned error means the sandbox failed and the caller owes an IE.
func (h *Harness) Judge(ctx context.Context, req Request) (model.Verdict, error) {
	cases, err := req.Cases.Cases(ctx)
	if err != nil {
		return model.Verdict{}, err
	}
	if len(cases) == 0 {
		return model.InternalErrorVerdict("no test cases", h.now()), nil
	}

	lang := string(req.Language.ID)
	compiled, err := req.Driver.Compile(ctx, req.Box, req.Language, req.Source)
	if err != nil {
		return model.Verdict{}, errors.Wrap(err, errors.SandboxError)
	}
	if req.Language.Compiled() {
		h.metrics.ObserveCompile(ctx, lang, compiled.OK, compiled.TimeMs, compiled.MemoryKB)
	}
	if !compiled.OK {
		return model.Verdict{
			Status:     model.StatusCE,
			Score:      0,
			Cases:      []model.CaseResult{},
			Message:    sandbox.Truncate(compiled.Message, int(req.Limits.MaxOutput*1024)),
			FinishedAt: h.now(),
		}, nil
	}

	lim := RunLimits(req.Limits, req.Language)
	results := make([]model.CaseResult, 0, len(cases))
	var maxTime, maxMemory int64
	for i, c := range cases {
		if !c.FromData {
			if err := req.Driver.WriteFile(ctx, req.Box, c.InputFile, []byte(c.Input)); err != nil {
				return model.Verdict{}, err
			}
		}
		res, err := req.Driver.RunOne(ctx, req.Box, sandbox.RunRequest{
			Name:          "case" + strconv.Itoa(i+1),
			Command:       req.Language.RunCmd,
			DataDir:       req.Cases.DataDir(),
			Input:         c.InputFile,
			InputFromData: c.FromData,
			Limits:        lim,
		})
		if err != nil {
			return model.Verdict{}, errors.Wrap(err, errors.SandboxError)
		}

		cr := h.caseResult(c, res, lim)
		h.metrics.ObserveRun(ctx, lang, string(cr.Status), cr.Time, cr.Memory)
		logger.Debug(ctx, "case judged",
			zap.String("case", c.Name),
			zap.String("status", string(cr.Status)),
			zap.Int64("time_ms", cr.Time),
			zap.Int64("memory_kb", cr.Memory),
		)
		maxTime = max(maxTime, cr.Time)
		maxMemory = max(maxMemory, cr.Memory)
		results = append(results, cr)
	}

	status, score := Aggregate(results)
	return model.Verdict{
		Status:     status,
		Score:      score,
		MaxTime:    maxTime,
		MaxMemory:  maxMemory,
		Cases:      results,
		FinishedAt: h.now(),
	}, nil
}

func (h *Harness) caseResult(c Case, res sandbox.RunResult, lim sandbox.Limits) model.CaseResult {
	status := Classify(res, c.Expected, lim)
	cr := model.CaseResult{
		Name:    c.Name,
		Status:  status,
		Time:    res.TimeMs,
		Memory:  res.MemoryKB,
		Message: sandbox.Truncate(strings.TrimSpace(res.Stderr), int(lim.OutputKB*1024)),
	}
	if !res.Exited && cr.Message == "" {
		cr.Message = res.Diagnostic
	}
	if status == model.StatusWA {
		cr.Diff = Diff(c.Expected, res.Stdout, h.maxDiffLen)
	}
	return cr
}
