// Package engine runs host processes with a wall-clock watchdog.
package engine

import (
	"context"
	"io"
	"time"
)

// Command is one host process invocation.
type Command struct {
	Path  string
	Args  []string
	Dir   string
	Env   []string
	Stdin io.Reader

	// WallLimit kills the whole process group once exceeded; zero disables it.
	WallLimit time.Duration

	// MaxOutputBytes caps captured stdout and stderr each; zero means 64 KiB.
	MaxOutputBytes int64
}

// Outcome is what the host observed of a finished process.
type Outcome struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Elapsed  time.Duration
}

// Runner executes host commands. A non-nil error means the process could not
// be started or waited for; a non-zero exit is reported through Outcome.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Outcome, error)
}

const defaultMaxOutputBytes int64 = 64 * 1024

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	buf []byte
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - int64(len(b.buf))
	if room > 0 {
		if int64(len(p)) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}
