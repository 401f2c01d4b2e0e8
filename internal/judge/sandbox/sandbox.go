// Package sandbox defines the contract between the judge and its execution backends.
package sandbox

import (
	"context"
	"time"
)

// Driver compiles and runs untrusted programs inside numbered, reusable instances.
// An instance is owned by exactly one worker; drivers never share instance state.
type Driver interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Supports reports whether the backend can judge lang.
	Supports(lang *Language) bool

	// Prepare resets the instance to an empty working directory.
	Prepare(ctx context.Context, box int) error

	// Cleanup deletes every file the instance holds.
	Cleanup(ctx context.Context, box int) error

	// WriteFile places a file into the instance working directory.
	WriteFile(ctx context.Context, box int, name string, data []byte) error

	// Compile writes source and builds it under the fixed compile budget.
	// Interpreted languages succeed without running anything.
	Compile(ctx context.Context, box int, lang *Language, source string) (CompileResult, error)

	// RunOne executes one test case. A non-nil error means the sandbox itself
	// failed, never that the program misbehaved.
	RunOne(ctx context.Context, box int, req RunRequest) (RunResult, error)
}

// Limits are hard limits for one process tree.
type Limits struct {
	Time      time.Duration // CPU time
	WallTime  time.Duration
	MemoryKB  int64
	OutputKB  int64 // per written file
	Processes int
}

// CompileLimits is the budget for every compilation, independent of user limits.
var CompileLimits = Limits{
	Time:      10 * time.Second,
	WallTime:  20 * time.Second,
	MemoryKB:  1024 * 1024,
	OutputKB:  64 * 1024,
	Processes: 64,
}

// RunRequest describes one execution.
type RunRequest struct {
	// Name prefixes the captured <Name>.stdout and <Name>.stderr files.
	Name    string
	Command []string

	// DataDir is a host directory exposed read-only to the program, if set.
	DataDir string

	// Input names the stdin file: inside DataDir when InputFromData, otherwise
	// inside the working directory. Empty means no stdin.
	Input         string
	InputFromData bool

	Limits Limits
}

// RunResult is the raw outcome of one execution.
type RunResult struct {
	// Exited is false when the backend recorded no exit status at all.
	Exited   bool
	ExitCode int
	Signal   int

	TimedOut       bool // killed by the CPU or wall-clock watchdog
	OOMKilled      bool
	OutputExceeded bool // killed for writing past the file size limit

	// Diagnostic carries backend messages, e.g. why no status was recorded.
	Diagnostic string

	Stdout   string
	Stderr   string
	TimeMs   int64
	MemoryKB int64
}

// Succeeded reports a clean zero exit.
func (r RunResult) Succeeded() bool {
	return r.Exited && r.ExitCode == 0 && r.Signal == 0 && !r.TimedOut && !r.OOMKilled && !r.OutputExceeded
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	Message  string
	TimeMs   int64
	MemoryKB int64
}
