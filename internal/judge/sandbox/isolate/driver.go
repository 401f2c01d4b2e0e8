// Package isolate implements the sandbox driver on top of the isolate(1) tool.
package isolate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/engine"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	dataMount     = "/data"
	hostPath      = "PATH=/usr/bin:/bin"
	stackLimitKB  = 65536
	isolateFailed = 2
	hostGrace     = 2 * time.Second
)

// Config controls how isolate is invoked.
type Config struct {
	Binary     string            `yaml:"binary"`
	BoxRoot    string            `yaml:"boxRoot"`
	UseCgroups bool              `yaml:"useCgroups"`
	ExtraTime  float64           `yaml:"extraTime"`
	Languages  []string          `yaml:"languages"`
	Env        map[string]string `yaml:"env"`
}

// DefaultConfig returns the stock isolate settings.
func DefaultConfig() Config {
	return Config{
		Binary:     "isolate",
		BoxRoot:    "/var/lib/isolate",
		UseCgroups: true,
		ExtraTime:  0.5,
		Languages:  []string{"python", "cpp", "java"},
	}
}

// Driver runs programs in isolate boxes.
type Driver struct {
	cfg    Config
	runner engine.Runner

	mu    sync.Mutex
	boxes map[int]string // box id -> host working directory
}

// NewDriver creates an isolate driver. runner executes the isolate binary itself.
func NewDriver(cfg Config, runner engine.Runner) *Driver {
	if cfg.Binary == "" {
		cfg.Binary = "isolate"
	}
	if cfg.BoxRoot == "" {
		cfg.BoxRoot = "/var/lib/isolate"
	}
	if runner == nil {
		runner = engine.NewRunner()
	}
	return &Driver{cfg: cfg, runner: runner, boxes: make(map[int]string)}
}

func (d *Driver) Name() string { return "isolate" }

func (d *Driver) Supports(lang *sandbox.Language) bool {
	for _, id := range d.cfg.Languages {
		if id == string(lang.ID) {
			return true
		}
	}
	return false
}

func (d *Driver) baseArgs(box int) []string {
	args := []string{"--box-id=" + strconv.Itoa(box)}
	if d.cfg.UseCgroups {
		args = append(args, "--cg")
	}
	return args
}

// Prepare wipes any leftover box and initialises a fresh one.
func (d *Driver) Prepare(ctx context.Context, box int) error {
	if err := sandbox.ValidateBox(box); err != nil {
		return errors.Wrap(err, errors.SandboxError)
	}
	_, _ = d.runner.Run(ctx, engine.Command{Path: d.cfg.Binary, Args: append(d.baseArgs(box), "--cleanup")})

	out, err := d.runner.Run(ctx, engine.Command{Path: d.cfg.Binary, Args: append(d.baseArgs(box), "--init")})
	if err != nil {
		return errors.Wrapf(err, errors.SandboxUnavailable, "isolate init box %d", box)
	}
	if out.ExitCode != 0 {
		return errors.Newf(errors.SandboxError, "isolate init box %d failed: %s", box, strings.TrimSpace(string(out.Stderr)))
	}

	root := strings.TrimSpace(string(out.Stdout))
	if root == "" {
		root = filepath.Join(d.cfg.BoxRoot, strconv.Itoa(box))
	}
	d.mu.Lock()
	d.boxes[box] = filepath.Join(root, "box")
	d.mu.Unlock()
	return nil
}

// Cleanup removes the box. It is safe to call on a box that was never prepared.
func (d *Driver) Cleanup(ctx context.Context, box int) error {
	d.mu.Lock()
	delete(d.boxes, box)
	d.mu.Unlock()

	out, err := d.runner.Run(ctx, engine.Command{Path: d.cfg.Binary, Args: append(d.baseArgs(box), "--cleanup")})
	if err != nil {
		return errors.Wrapf(err, errors.SandboxError, "isolate cleanup box %d", box)
	}
	if out.ExitCode != 0 {
		return errors.Newf(errors.SandboxError, "isolate cleanup box %d failed: %s", box, strings.TrimSpace(string(out.Stderr)))
	}
	return nil
}

func (d *Driver) workDir(box int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir, ok := d.boxes[box]
	if !ok {
		return "", errors.Newf(errors.SandboxError, "box %d is not prepared", box)
	}
	return dir, nil
}

func (d *Driver) WriteFile(ctx context.Context, box int, name string, data []byte) error {
	dir, err := d.workDir(box)
	if err != nil {
		return err
	}
	path, err := sandbox.SafeJoin(dir, name)
	if err != nil {
		return errors.Wrap(err, errors.SandboxError)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.SandboxError, "write %s into box %d", name, box)
	}
	return nil
}

// Compile writes the source and runs the compiler under CompileLimits.
func (d *Driver) Compile(ctx context.Context, box int, lang *sandbox.Language, source string) (sandbox.CompileResult, error) {
	if err := d.WriteFile(ctx, box, lang.SourceFile, []byte(source)); err != nil {
		return sandbox.CompileResult{}, err
	}
	if !lang.Compiled() {
		return sandbox.CompileResult{OK: true}, nil
	}

	res, err := d.RunOne(ctx, box, sandbox.RunRequest{
		Name:    "compile",
		Command: lang.CompileCmd,
		Limits:  sandbox.CompileLimits,
	})
	if err != nil {
		return sandbox.CompileResult{}, err
	}
	return compileOutcome(res), nil
}

func compileOutcome(res sandbox.RunResult) sandbox.CompileResult {
	out := sandbox.CompileResult{OK: res.Succeeded(), TimeMs: res.TimeMs, MemoryKB: res.MemoryKB}
	if out.OK {
		return out
	}
	out.Message = strings.TrimSpace(res.Stderr)
	if out.Message == "" {
		out.Message = strings.TrimSpace(res.Stdout)
	}
	if out.Message == "" {
		switch {
		case res.TimedOut:
			out.Message = "compilation timed out"
		case res.OOMKilled:
			out.Message = "compilation exceeded memory budget"
		default:
			out.Message = res.Diagnostic
		}
	}
	return out
}

// RunOne runs a single command and classifies the isolate meta file.
func (d *Driver) RunOne(ctx context.Context, box int, req sandbox.RunRequest) (sandbox.RunResult, error) {
	dir, err := d.workDir(box)
	if err != nil {
		return sandbox.RunResult{}, err
	}
	if len(req.Command) == 0 || req.Name == "" {
		return sandbox.RunResult{}, errors.New(errors.SandboxError).WithMessage("run request needs a name and a command")
	}

	metaFile, err := os.CreateTemp("", "isolate.*.meta")
	if err != nil {
		return sandbox.RunResult{}, errors.Wrapf(err, errors.SandboxError, "create meta file")
	}
	metaPath := metaFile.Name()
	_ = metaFile.Close()
	defer os.Remove(metaPath)

	args := d.runArgs(box, metaPath, req)
	out, err := d.runner.Run(ctx, engine.Command{
		Path:      d.cfg.Binary,
		Args:      args,
		WallLimit: wallTime(req.Limits) + hostGrace,
	})
	if err != nil {
		return sandbox.RunResult{}, errors.Wrapf(err, errors.SandboxUnavailable, "run isolate")
	}

	metaData, _ := os.ReadFile(metaPath)
	meta := ParseMeta(string(metaData))
	if meta.Status == "XX" || out.ExitCode >= isolateFailed {
		return sandbox.RunResult{}, errors.Newf(errors.SandboxError, "isolate internal error: %s %s",
			meta.Message, strings.TrimSpace(string(out.Stderr)))
	}

	res := classify(meta, req.Limits)
	if !res.Exited {
		res.Diagnostic = strings.TrimSpace(meta.Message + " " + string(out.Stderr))
		if out.TimedOut {
			res.Diagnostic = strings.TrimSpace(res.Diagnostic + " killed by host timeout")
		}
	}

	maxBytes := req.Limits.OutputKB*1024 + 1
	if res.Stdout, err = sandbox.ReadLimited(filepath.Join(dir, req.Name+".stdout"), maxBytes); err != nil {
		return sandbox.RunResult{}, errors.Wrapf(err, errors.SandboxError, "read stdout")
	}
	if res.Stderr, err = sandbox.ReadLimited(filepath.Join(dir, req.Name+".stderr"), maxBytes); err != nil {
		return sandbox.RunResult{}, errors.Wrapf(err, errors.SandboxError, "read stderr")
	}

	logger.Debug(ctx, "isolate run finished",
		zap.Int("box", box),
		zap.String("name", req.Name),
		zap.String("status", meta.Status),
		zap.Int64("time_ms", res.TimeMs),
		zap.Int64("memory_kb", res.MemoryKB),
	)
	return res, nil
}

func (d *Driver) runArgs(box int, metaPath string, req sandbox.RunRequest) []string {
	lim := req.Limits
	args := d.baseArgs(box)
	args = append(args,
		"--run",
		fmt.Sprintf("--time=%.3f", lim.Time.Seconds()),
		fmt.Sprintf("--extra-time=%.3f", d.cfg.ExtraTime),
		fmt.Sprintf("--fsize=%d", lim.OutputKB),
		"--meta="+metaPath,
		"-E", hostPath,
		"-o", req.Name+".stdout",
		"-r", req.Name+".stderr",
		fmt.Sprintf("-k%d", stackLimitKB),
	)
	args = append(args, fmt.Sprintf("--wall-time=%.3f", wallTime(lim).Seconds()))
	if d.cfg.UseCgroups {
		args = append(args, fmt.Sprintf("--cg-mem=%d", lim.MemoryKB))
	} else {
		args = append(args, fmt.Sprintf("--mem=%d", lim.MemoryKB))
	}
	if lim.Processes > 0 {
		args = append(args, fmt.Sprintf("--processes=%d", lim.Processes))
	}
	for k, v := range d.cfg.Env {
		args = append(args, "-E", k+"="+v)
	}
	if req.DataDir != "" {
		args = append(args, "--dir="+dataMount+"="+req.DataDir)
	}
	if req.Input != "" {
		stdin := req.Input
		if req.InputFromData {
			stdin = dataMount + "/" + req.Input
		}
		args = append(args, "--stdin="+stdin)
	}
	args = append(args, "--")
	return append(args, req.Command...)
}

// wallTime defaults to twice the CPU limit plus a second, covering programs
// that block on I/O or sleep.
func wallTime(lim sandbox.Limits) time.Duration {
	if lim.WallTime > 0 {
		return lim.WallTime
	}
	return 2*lim.Time + time.Second
}

// classify turns isolate's meta record into a RunResult.
func classify(meta Meta, lim sandbox.Limits) sandbox.RunResult {
	res := sandbox.RunResult{
		ExitCode: meta.ExitCode,
		Signal:   meta.ExitSig,
		TimeMs:   meta.TimeMs(),
		MemoryKB: meta.MemoryKB(),
	}
	res.Exited = meta.Recorded

	switch meta.Status {
	case "TO":
		res.TimedOut = true
	case "SG":
		if !meta.HasExitSig {
			res.Signal = int(unix.SIGKILL)
		}
	}
	if meta.CgOOMKilled {
		res.OOMKilled = true
	}
	switch res.Signal {
	case int(unix.SIGXFSZ):
		res.OutputExceeded = true
	case int(unix.SIGKILL), int(unix.SIGSEGV), int(unix.SIGABRT):
		if lim.MemoryKB > 0 && res.MemoryKB >= lim.MemoryKB {
			res.OOMKilled = true
		}
	}
	return res
}
