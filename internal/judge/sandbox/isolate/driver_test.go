package isolate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudger/internal/judge/model"
	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/engine"
)

// fakeIsolate emulates the isolate binary: --init creates the box directory,
// --run writes the canned meta/stdout/stderr for the current call.
type fakeIsolate struct {
	mu    sync.Mutex
	root  string
	calls [][]string

	meta     string
	stdout   string
	stderr   string
	exitCode int
}

func (f *fakeIsolate) Run(ctx context.Context, cmd engine.Command) (engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd.Args)

	switch {
	case hasArg(cmd.Args, "--init"):
		if err := os.MkdirAll(filepath.Join(f.root, "box"), 0o755); err != nil {
			return engine.Outcome{}, err
		}
		return engine.Outcome{Stdout: []byte(f.root + "\n")}, nil
	case hasArg(cmd.Args, "--cleanup"):
		return engine.Outcome{}, nil
	}

	var metaPath, outName, errName string
	for i, a := range cmd.Args {
		switch {
		case strings.HasPrefix(a, "--meta="):
			metaPath = strings.TrimPrefix(a, "--meta=")
		case a == "-o":
			outName = cmd.Args[i+1]
		case a == "-r":
			errName = cmd.Args[i+1]
		}
	}
	box := filepath.Join(f.root, "box")
	_ = os.WriteFile(metaPath, []byte(f.meta), 0o644)
	_ = os.WriteFile(filepath.Join(box, outName), []byte(f.stdout), 0o644)
	_ = os.WriteFile(filepath.Join(box, errName), []byte(f.stderr), 0o644)
	return engine.Outcome{ExitCode: f.exitCode}, nil
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func newTestDriver(t *testing.T, fake *fakeIsolate) *Driver {
	t.Helper()
	fake.root = t.TempDir()
	d := NewDriver(DefaultConfig(), fake)
	if err := d.Prepare(context.Background(), 7); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	return d
}

var runLimits = sandbox.Limits{Time: time.Second, MemoryKB: 65536, OutputKB: 1024, Processes: 1}

func TestRunOneBuildsIsolateArguments(t *testing.T) {
	t.Parallel()
	fake := &fakeIsolate{meta: "time:0.010\nmax-rss:1200\ncg-mem:2048\n", stdout: "5\n"}
	d := newTestDriver(t, fake)

	res, err := d.RunOne(context.Background(), 7, sandbox.RunRequest{
		Name:          "1",
		Command:       []string{"/usr/bin/python3", "main.py"},
		DataDir:       "/srv/data/42",
		Input:         "1.in",
		InputFromData: true,
		Limits:        runLimits,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.Succeeded() || res.Stdout != "5\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TimeMs != 10 || res.MemoryKB != 2048 {
		t.Fatalf("unexpected usage: %d ms %d KB", res.TimeMs, res.MemoryKB)
	}

	args := strings.Join(fake.calls[len(fake.calls)-1], " ")
	for _, want := range []string{
		"--box-id=7", "--cg", "--run", "--time=1.000", "--cg-mem=65536", "--fsize=1024",
		"--processes=1", "--dir=/data=/srv/data/42", "--stdin=/data/1.in",
		"-o 1.stdout", "-r 1.stderr", "-E PATH=/usr/bin:/bin", "-- /usr/bin/python3 main.py",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}
}

func TestRunOneClassifiesMeta(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		meta  string
		check func(t *testing.T, r sandbox.RunResult)
	}{
		{
			name: "timeout",
			meta: "status:TO\ntime:1.010\nmessage:Time limit exceeded\n",
			check: func(t *testing.T, r sandbox.RunResult) {
				if !r.TimedOut || !r.Exited {
					t.Fatalf("expected timed out, got %+v", r)
				}
			},
		},
		{
			name: "oom",
			meta: "status:SG\nexitsig:9\ntime:0.2\ncg-mem:65536\ncg-oom-killed:1\n",
			check: func(t *testing.T, r sandbox.RunResult) {
				if !r.OOMKilled {
					t.Fatalf("expected oom, got %+v", r)
				}
			},
		},
		{
			name: "file size",
			meta: "status:SG\nexitsig:25\ntime:0.1\n",
			check: func(t *testing.T, r sandbox.RunResult) {
				if !r.OutputExceeded || r.Signal != 25 {
					t.Fatalf("expected output exceeded, got %+v", r)
				}
			},
		},
		{
			name: "segv under limit is a runtime error",
			meta: "status:SG\nexitsig:11\ntime:0.1\nmax-rss:800\n",
			check: func(t *testing.T, r sandbox.RunResult) {
				if r.OOMKilled || r.Signal != 11 {
					t.Fatalf("expected plain signal, got %+v", r)
				}
			},
		},
		{
			name: "segv at limit is memory",
			meta: "status:SG\nexitsig:11\ntime:0.1\ncg-mem:65536\n",
			check: func(t *testing.T, r sandbox.RunResult) {
				if !r.OOMKilled {
					t.Fatalf("expected oom, got %+v", r)
				}
			},
		},
		{
			name: "nonzero exit",
			meta: "status:RE\nexitcode:3\ntime:0.1\n",
			check: func(t *testing.T, r sandbox.RunResult) {
				if r.ExitCode != 3 || r.Succeeded() {
					t.Fatalf("expected exit 3, got %+v", r)
				}
			},
		},
		{
			name: "no record",
			meta: "",
			check: func(t *testing.T, r sandbox.RunResult) {
				if r.Exited {
					t.Fatalf("expected no exit status, got %+v", r)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fake := &fakeIsolate{meta: tc.meta, exitCode: 1}
			d := newTestDriver(t, fake)
			res, err := d.RunOne(context.Background(), 7, sandbox.RunRequest{
				Name: "case", Command: []string{"./main"}, Limits: runLimits,
			})
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			tc.check(t, res)
		})
	}
}

func TestRunOneInternalErrorIsDriverFailure(t *testing.T) {
	t.Parallel()
	fake := &fakeIsolate{meta: "status:XX\nmessage:cannot set up cgroup\n", exitCode: 2}
	d := newTestDriver(t, fake)
	_, err := d.RunOne(context.Background(), 7, sandbox.RunRequest{Name: "x", Command: []string{"./main"}, Limits: runLimits})
	if err == nil {
		t.Fatalf("expected driver error")
	}
}

func TestCompileReportsDiagnostics(t *testing.T) {
	t.Parallel()
	fake := &fakeIsolate{meta: "status:RE\nexitcode:1\ntime:0.3\n", stderr: "main.cpp:1:1: error: expected ';'\n", exitCode: 1}
	d := newTestDriver(t, fake)
	langs, err := sandbox.NewLanguageSet(nil)
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	cpp, _ := langs.Lookup(model.LanguageCPP)

	res, err := d.Compile(context.Background(), 7, cpp, "int main( {")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if res.OK || !strings.Contains(res.Message, "expected ';'") {
		t.Fatalf("expected compile error with diagnostics, got %+v", res)
	}
	src, err := os.ReadFile(filepath.Join(fake.root, "box", "main.cpp"))
	if err != nil || string(src) != "int main( {" {
		t.Fatalf("source not written into box: %q %v", src, err)
	}
}

func TestWriteFileRejectsEscapes(t *testing.T) {
	t.Parallel()
	d := newTestDriver(t, &fakeIsolate{})
	if err := d.WriteFile(context.Background(), 7, "../evil", []byte("x")); err == nil {
		t.Fatalf("expected path escape to be rejected")
	}
}

func TestUnpreparedBoxIsAnError(t *testing.T) {
	t.Parallel()
	d := NewDriver(DefaultConfig(), &fakeIsolate{root: t.TempDir()})
	if _, err := d.RunOne(context.Background(), 3, sandbox.RunRequest{Name: "x", Command: []string{"true"}}); err == nil {
		t.Fatalf("expected error for unprepared box")
	}
}
