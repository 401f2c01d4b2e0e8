package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	httpclient "codejudger/internal/cli/http"
	"codejudger/internal/judge/model"

	"github.com/fatih/color"
)

// Printer renders command output, either as text or as JSON.
type Printer struct {
	w       io.Writer
	json    bool
	pretty  bool
	noColor bool
}

func NewPrinter(w io.Writer, asJSON, pretty, noColor bool) *Printer {
	return &Printer{w: w, json: asJSON, pretty: pretty, noColor: noColor}
}

func (p *Printer) Line(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Error(err error) {
	p.Line("%s %v", p.paint(color.New(color.FgRed, color.Bold), "error:"), err)
}

func (p *Printer) Accepted(acc httpclient.Accepted) {
	if p.json {
		p.JSON(acc)
		return
	}
	p.Line("%s %s", acc.SubmissionID, p.status(acc.Status))
}

// Status prints the summary line, one row per case and the diff of failed cases.
func (p *Printer) Status(rec model.StatusRecord) {
	if p.json {
		p.JSON(rec)
		return
	}
	p.Line("%s %s", rec.SubmissionID, p.status(rec.Status))
	if !rec.Status.IsTerminal() {
		return
	}
	p.Line("score %.2f  time %dms  memory %dKB", rec.Score, rec.MaxTime, rec.MaxMemory)
	if rec.Message != "" {
		p.Line("%s", rec.Message)
	}
	if len(rec.Result) == 0 {
		return
	}
	// Escape codes would skew the column widths, so the table stays plain.
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CASE\tSTATUS\tTIME\tMEMORY\tMESSAGE")
	for _, c := range rec.Result {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%dms\t%dKB\t%s\n", c.Name, c.Status, c.Time, c.Memory, firstLine(c.Message))
	}
	_ = tw.Flush()
	for _, c := range rec.Result {
		if c.Diff == "" {
			continue
		}
		p.Line("%s", p.paint(color.New(color.Faint), "case "+c.Name+":"))
		p.Line("%s", indent(c.Diff, "  "))
	}
}

// Event prints one final status event.
func (p *Printer) Event(ev model.StatusEvent) {
	if p.json {
		p.JSON(ev)
		return
	}
	rec := ev.Status
	p.Line("%s %s score %.2f time %dms memory %dKB", rec.SubmissionID, p.status(rec.Status), rec.Score, rec.MaxTime, rec.MaxMemory)
}

func (p *Printer) JSON(v any) {
	var (
		data []byte
		err  error
	)
	if p.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		p.Error(err)
		return
	}
	p.Line("%s", data)
}

func (p *Printer) status(s model.Status) string {
	return p.paint(statusColor(s), string(s))
}

func (p *Printer) paint(c *color.Color, s string) string {
	if p.noColor {
		return s
	}
	return c.Sprint(s)
}

func statusColor(s model.Status) *color.Color {
	switch s {
	case model.StatusAC:
		return color.New(color.FgGreen, color.Bold)
	case model.StatusWA, model.StatusRE:
		return color.New(color.FgRed, color.Bold)
	case model.StatusTLE, model.StatusMLE, model.StatusOLE:
		return color.New(color.FgYellow, color.Bold)
	case model.StatusCE:
		return color.New(color.FgMagenta)
	case model.StatusIE:
		return color.New(color.BgRed, color.FgWhite)
	default:
		return color.New(color.FgCyan)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
