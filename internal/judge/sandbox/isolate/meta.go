package isolate

import (
	"bufio"
	"strconv"
	"strings"
)

// Meta is the parsed content of an isolate --meta file.
type Meta struct {
	TimeSec     float64
	WallTimeSec float64
	MaxRSSKB    int64
	CgMemKB     int64
	ExitCode    int
	ExitSig     int
	Status      string // RE, SG, TO, XX or empty
	Message     string
	Killed      bool
	CgOOMKilled bool

	HasExitSig bool

	// Recorded is set once isolate reported any run statistics.
	Recorded bool
}

// ParseMeta parses "key:value" lines. Unknown keys are ignored.
func ParseMeta(data string) Meta {
	var m Meta
	sc := bufio.NewScanner(strings.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		switch key {
		case "time":
			m.TimeSec, _ = strconv.ParseFloat(value, 64)
			m.Recorded = true
		case "time-wall":
			m.WallTimeSec, _ = strconv.ParseFloat(value, 64)
			m.Recorded = true
		case "max-rss":
			m.MaxRSSKB, _ = strconv.ParseInt(value, 10, 64)
		case "cg-mem":
			m.CgMemKB, _ = strconv.ParseInt(value, 10, 64)
		case "exitcode":
			m.ExitCode, _ = strconv.Atoi(value)
		case "exitsig":
			m.ExitSig, _ = strconv.Atoi(value)
			m.HasExitSig = true
		case "status":
			m.Status = value
			m.Recorded = m.Recorded || value != "XX"
		case "message":
			m.Message = value
		case "killed":
			m.Killed = value == "1"
		case "cg-oom-killed":
			m.CgOOMKilled = value == "1"
		}
	}
	return m
}

// MemoryKB prefers the cgroup peak, which covers the whole process tree.
func (m Meta) MemoryKB() int64 {
	if m.CgMemKB > 0 {
		return m.CgMemKB
	}
	return m.MaxRSSKB
}

// TimeMs returns CPU time in milliseconds.
func (m Meta) TimeMs() int64 {
	return int64(m.TimeSec*1000 + 0.5)
}
