// Package container implements the sandbox driver on top of throwaway Docker containers.
package container

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
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	appDir        = "/app"
	dataDir       = "/app/data"
	shellPath     = "/bin/bash"
	hostGrace     = 5 * time.Second
	exitTimeout   = 124
	exitKilled    = 137 // 128 + SIGKILL
	exitFileSize  = 153 // 128 + SIGXFSZ
	signalBase    = 128
	shellOverhead = 8
)

// API is the part of the Docker Engine client the driver uses.
type API interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Config controls the container backend.
type Config struct {
	Image     string   `yaml:"image"`
	WorkRoot  string   `yaml:"workRoot"`
	User      string   `yaml:"user"`
	NanoCPUs  int64    `yaml:"nanoCpus"`
	PidsLimit int64    `yaml:"pidsLimit"`
	Languages []string `yaml:"languages"`
}

// DefaultConfig returns the stock container settings.
func DefaultConfig() Config {
	return Config{
		Image:     "codejudger-runner:latest",
		WorkRoot:  filepath.Join(os.TempDir(), "codejudger"),
		NanoCPUs:  1_000_000_000,
		PidsLimit: 128,
		Languages: []string{"python", "cpp", "java"},
	}
}

// NewClient connects to the Docker daemon configured by the environment.
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrapf(err, errors.SandboxUnavailable, "create docker client")
	}
	return cli, nil
}

// Driver runs every execution in a fresh container bound to the box directory.
type Driver struct {
	cfg Config
	api API

	mu    sync.Mutex
	boxes map[int]string
}

// NewDriver creates a container driver.
func NewDriver(cfg Config, api API) *Driver {
	def := DefaultConfig()
	if cfg.Image == "" {
		cfg.Image = def.Image
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = def.WorkRoot
	}
	if cfg.NanoCPUs <= 0 {
		cfg.NanoCPUs = def.NanoCPUs
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = def.PidsLimit
	}
	return &Driver{cfg: cfg, api: api, boxes: make(map[int]string)}
}

func (d *Driver) Name() string { return "container" }

func (d *Driver) Supports(lang *sandbox.Language) bool {
	for _, id := range d.cfg.Languages {
		if id == string(lang.ID) {
			return true
		}
	}
	return false
}

func (d *Driver) Prepare(ctx context.Context, box int) error {
	if err := sandbox.ValidateBox(box); err != nil {
		return errors.Wrap(err, errors.SandboxError)
	}
	dir := filepath.Join(d.cfg.WorkRoot, "box-"+strconv.Itoa(box))
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, errors.SandboxError, "reset box %d", box)
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return errors.Wrapf(err, errors.SandboxError, "create box %d", box)
	}
	// The runner user inside the image differs from ours.
	if err := os.Chmod(dir, 0o777); err != nil {
		return errors.Wrapf(err, errors.SandboxError, "chmod box %d", box)
	}
	d.mu.Lock()
	d.boxes[box] = dir
	d.mu.Unlock()
	return nil
}

func (d *Driver) Cleanup(ctx context.Context, box int) error {
	d.mu.Lock()
	dir, ok := d.boxes[box]
	delete(d.boxes, box)
	d.mu.Unlock()
	if !ok {
		dir = filepath.Join(d.cfg.WorkRoot, "box-"+strconv.Itoa(box))
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, errors.SandboxError, "cleanup box %d", box)
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
	if err := os.WriteFile(path, data, 0o666); err != nil {
		return errors.Wrapf(err, errors.SandboxError, "write %s into box %d", name, box)
	}
	return nil
}

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

	out := sandbox.CompileResult{OK: res.Succeeded(), TimeMs: res.TimeMs, MemoryKB: res.MemoryKB}
	if !out.OK {
		out.Message = strings.TrimSpace(res.Stderr)
		switch {
		case out.Message != "":
		case res.TimedOut:
			out.Message = "compilation timed out"
		case res.OOMKilled:
			out.Message = "compilation exceeded memory budget"
		default:
			out.Message = strings.TrimSpace(res.Stdout + " " + res.Diagnostic)
		}
	}
	return out, nil
}

func (d *Driver) RunOne(ctx context.Context, box int, req sandbox.RunRequest) (sandbox.RunResult, error) {
	dir, err := d.workDir(box)
	if err != nil {
		return sandbox.RunResult{}, err
	}
	if len(req.Command) == 0 || req.Name == "" {
		return sandbox.RunResult{}, errors.New(errors.SandboxError).WithMessage("run request needs a name and a command")
	}
	for _, suffix := range []string{".meta", ".exitcode", ".stdout", ".stderr"} {
		_ = os.Remove(filepath.Join(dir, req.Name+suffix))
	}
	script := req.Name + ".sh"
	if err := d.WriteFile(ctx, box, script, []byte(runScript(req))); err != nil {
		return sandbox.RunResult{}, err
	}

	code, oom, hostKilled, err := d.execute(ctx, box, dir, script, req, wallTime(req.Limits)+hostGrace)
	if err != nil {
		return sandbox.RunResult{}, err
	}

	raw, err := collect(dir, req)
	if err != nil {
		return sandbox.RunResult{}, err
	}
	res := classify(raw, oom, hostKilled, req.Limits)

	logger.Debug(ctx, "container run finished",
		zap.Int("box", box),
		zap.String("name", req.Name),
		zap.Int("container_exit", code),
		zap.Bool("oom", oom),
		zap.Int64("time_ms", res.TimeMs),
		zap.Int64("memory_kb", res.MemoryKB),
	)
	return res, nil
}

// execute creates, starts and waits for one container. It returns the
// container exit code, the daemon's OOM flag and whether the host watchdog fired.
func (d *Driver) execute(ctx context.Context, box int, dir, script string, req sandbox.RunRequest, deadline time.Duration) (int, bool, bool, error) {
	memBytes := req.Limits.MemoryKB * 1024
	pids := d.cfg.PidsLimit
	if n := int64(req.Limits.Processes + shellOverhead); req.Limits.Processes > 0 && n < pids {
		pids = n
	}
	binds := []string{dir + ":" + appDir + ":rw"}
	if req.DataDir != "" {
		binds = append(binds, req.DataDir+":"+dataDir+":ro")
	}

	created, err := d.api.ContainerCreate(ctx,
		&container.Config{
			Image:           d.cfg.Image,
			Cmd:             []string{shellPath, appDir + "/" + script},
			WorkingDir:      appDir,
			User:            d.cfg.User,
			NetworkDisabled: true,
			Labels:          map[string]string{"codejudger.box": strconv.Itoa(box)},
		},
		&container.HostConfig{
			Binds:       binds,
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:     memBytes,
				MemorySwap: memBytes,
				NanoCPUs:   d.cfg.NanoCPUs,
				PidsLimit:  &pids,
			},
		},
		nil, nil, "")
	if err != nil {
		return 0, false, false, errors.Wrapf(err, errors.SandboxUnavailable, "create container")
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := d.api.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn(ctx, "failed to remove container", zap.String("container_id", created.ID), zap.Error(err))
		}
	}()

	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return 0, false, false, errors.Wrapf(err, errors.SandboxUnavailable, "start container")
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	statusCh, errCh := d.api.ContainerWait(waitCtx, created.ID, container.WaitConditionNotRunning)

	var code int
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return 0, false, false, errors.Newf(errors.SandboxError, "container wait: %s", st.Error.Message)
		}
		code = int(st.StatusCode)
	case err := <-errCh:
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return 0, false, true, nil
		}
		return 0, false, false, errors.Wrapf(err, errors.SandboxError, "wait container")
	}

	info, err := d.api.ContainerInspect(ctx, created.ID)
	if err != nil {
		return code, false, false, errors.Wrapf(err, errors.SandboxError, "inspect container")
	}
	oom := info.ContainerJSONBase != nil && info.State != nil && info.State.OOMKilled
	return code, oom, false, nil
}

// runScript renders the per-execution shell script. timeout enforces the
// CPU limit, /usr/bin/time records usage and the status lands in <name>.exitcode.
func runScript(req sandbox.RunRequest) string {
	name := req.Name
	stdin := "/dev/null"
	if req.Input != "" {
		if req.InputFromData {
			stdin = dataDir + "/" + req.Input
		} else {
			stdin = appDir + "/" + req.Input
		}
	}
	quoted := make([]string, len(req.Command))
	for i, arg := range req.Command {
		quoted[i] = shellQuote(arg)
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\nset +e\ncd " + appDir + "\n")
	if req.Limits.OutputKB > 0 {
		fmt.Fprintf(&b, "ulimit -f %d\n", req.Limits.OutputKB)
	}
	fmt.Fprintf(&b, "timeout -s KILL %.3fs /usr/bin/time -f 'time:%%e\\nmax-rss:%%M' -o %s -- %s < %s > %s 2> %s\n",
		req.Limits.Time.Seconds(),
		shellQuote(name+".meta"),
		strings.Join(quoted, " "),
		shellQuote(stdin),
		shellQuote(name+".stdout"),
		shellQuote(name+".stderr"),
	)
	fmt.Fprintf(&b, "echo $? > %s\n", shellQuote(name+".exitcode"))
	return b.String()
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:+", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func wallTime(lim sandbox.Limits) time.Duration {
	if lim.WallTime > 0 {
		return lim.WallTime
	}
	return 2*lim.Time + time.Second
}
