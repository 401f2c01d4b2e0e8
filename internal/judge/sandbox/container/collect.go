package container

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codejudger/internal/judge/sandbox"
	"codejudger/pkg/errors"
)

// usage is what /usr/bin/time wrote to <name>.meta.
type usage struct {
	timeSec  float64
	maxRSSKB int64
	recorded bool
}

func parseUsage(data string) usage {
	var u usage
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "time":
			u.timeSec, _ = strconv.ParseFloat(strings.TrimSpace(value), 64)
			u.recorded = true
		case "max-rss":
			u.maxRSSKB, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
	}
	return u
}

// collected holds the raw files one execution left behind.
type collected struct {
	sandbox.RunResult
	exitCode    int
	hasExitCode bool
	usage       usage
}

func collect(dir string, req sandbox.RunRequest) (collected, error) {
	var c collected
	maxBytes := req.Limits.OutputKB*1024 + 1
	var err error
	if c.Stdout, err = sandbox.ReadLimited(filepath.Join(dir, req.Name+".stdout"), maxBytes); err != nil {
		return c, errors.Wrapf(err, errors.SandboxError, "read stdout")
	}
	if c.Stderr, err = sandbox.ReadLimited(filepath.Join(dir, req.Name+".stderr"), maxBytes); err != nil {
		return c, errors.Wrapf(err, errors.SandboxError, "read stderr")
	}
	meta, err := sandbox.ReadLimited(filepath.Join(dir, req.Name+".meta"), 4096)
	if err != nil {
		return c, errors.Wrapf(err, errors.SandboxError, "read usage")
	}
	c.usage = parseUsage(meta)

	raw, err := os.ReadFile(filepath.Join(dir, req.Name+".exitcode"))
	if err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(string(raw))); convErr == nil {
			c.exitCode, c.hasExitCode = n, true
		}
	} else if !os.IsNotExist(err) {
		return c, errors.Wrapf(err, errors.SandboxError, "read exit code")
	}
	return c, nil
}

// classify maps the shell status of the timeout/time pipeline onto a RunResult.
//
//	124 or 137 without usage  killed by timeout
//	137 with usage            killed by the memory cgroup
//	153                       SIGXFSZ, output limit
//	>128                      other signal
//
// A program that exits with one of these codes itself is read the same way.
func classify(c collected, oom, hostKilled bool, lim sandbox.Limits) sandbox.RunResult {
	res := c.RunResult
	res.TimeMs = int64(c.usage.timeSec*1000 + 0.5)
	res.MemoryKB = c.usage.maxRSSKB

	switch {
	case hostKilled:
		res.Exited = false
		res.Diagnostic = "container killed by host timeout"
		return res
	case !c.hasExitCode && oom:
		// The daemon's OOM record stands in for the wrapper's exit code.
		res.Exited = true
		res.Signal = exitKilled - signalBase
		res.OOMKilled = true
		res.Diagnostic = "container killed by the OOM killer"
		return res
	case !c.hasExitCode:
		res.Exited = false
		res.Diagnostic = "container exited without recording a status"
		return res
	}

	res.Exited = true
	code := c.exitCode
	switch {
	case code == exitTimeout:
		res.TimedOut = true
	case code == exitKilled && !c.usage.recorded:
		res.TimedOut = true
	case code == exitKilled:
		res.Signal = exitKilled - signalBase
		res.OOMKilled = true
	case code == exitFileSize:
		res.Signal = exitFileSize - signalBase
		res.OutputExceeded = true
	case code > signalBase:
		res.Signal = code - signalBase
	default:
		res.ExitCode = code
	}
	if oom {
		res.OOMKilled = true
	}
	if res.TimedOut && res.TimeMs == 0 {
		res.TimeMs = lim.Time.Milliseconds()
	}
	return res
}
