// Package harness turns raw sandbox runs into per-case results and a submission verdict.
package harness

import (
	"math"
	"strings"

	"codejudger/internal/judge/model"
	"codejudger/internal/judge/sandbox"
)

// Normalize converts CRLF to LF and strips trailing whitespace from every
// line and from the end of the text.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(s, " \t\r\n\v\f"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\v\f")
	}
	return strings.Join(lines, "\n")
}

// Classify maps one run onto a case status. Checks are ordered: missing exit
// record, watchdog, memory, output limit, abnormal exit, then output comparison.
// Without an exit record only the diagnostic is trusted.
func Classify(res sandbox.RunResult, expected string, lim sandbox.Limits) model.Status {
	if !res.Exited {
		if mentionsKill(res.Diagnostic) {
			return model.StatusTLE
		}
		return model.StatusRE
	}
	switch {
	case res.TimedOut:
		return model.StatusTLE
	case res.OOMKilled:
		return model.StatusMLE
	case res.OutputExceeded, lim.OutputKB > 0 && int64(len(res.Stdout)) > lim.OutputKB*1024:
		return model.StatusOLE
	case res.ExitCode != 0 || res.Signal != 0:
		return model.StatusRE
	}
	if Normalize(res.Stdout) == Normalize(expected) {
		return model.StatusAC
	}
	return model.StatusWA
}

func mentionsKill(diag string) bool {
	d := strings.ToLower(diag)
	return strings.Contains(d, "timeout") || strings.Contains(d, "timed out") || strings.Contains(d, "kill")
}

// statusRank orders failing statuses for aggregation; higher wins.
var statusRank = map[model.Status]int{
	model.StatusTLE: 1,
	model.StatusWA:  2,
	model.StatusOLE: 3,
	model.StatusMLE: 4,
	model.StatusRE:  5,
}

// Aggregate folds case results into the submission status and score.
// No cases at all is an internal error.
func Aggregate(cases []model.CaseResult) (model.Status, float64) {
	if len(cases) == 0 {
		return model.StatusIE, 0
	}
	passed := 0
	worst := model.StatusAC
	for _, c := range cases {
		if c.Status == model.StatusAC {
			passed++
			continue
		}
		if statusRank[c.Status] > statusRank[worst] {
			worst = c.Status
		}
	}
	if worst == model.StatusAC && passed != len(cases) {
		// Only unranked statuses failed.
		worst = model.StatusRE
	}
	return worst, Score(passed, len(cases))
}

// Score is the pass percentage rounded to two decimals.
func Score(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(10000*float64(passed)/float64(total)) / 100
}
