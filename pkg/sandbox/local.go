package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
)

// LocalConfig configures the subprocess runtime.
type LocalConfig struct {
	// Python is the interpreter command. Defaults to "python3".
	Python string

	// TempDir is where job directories are created. Empty means the
	// system default.
	TempDir string

	// PassEnv names host variables copied into the isolate, such as
	// PYTHONPATH when aiohttp lives outside the default site-packages.
	PassEnv []string

	// MaxMemoryMB kills the program when its process tree's resident
	// memory exceeds this many megabytes. Zero disables the watchdog.
	MaxMemoryMB int

	// MaxOutputBytes caps captured stdout and stderr each. Defaults to 64 KiB.
	MaxOutputBytes int

	// KillGrace bounds how long Run waits for output pipes after the
	// process was killed. Defaults to 2s.
	KillGrace time.Duration

	// Network is "host" (the default), sharing the server's network, or
	// "none", an empty network namespace. With "none" programs cannot
	// reach the capability gateway. Linux only.
	Network string
}

// LocalRunner runs each job as a python3 subprocess in a fresh temporary
// directory.
//
// The subprocess shares the server's file system and, unless Network is
// "none", its loopback interface. On Linux the server is made
// non-dumpable so programs cannot read its memory or environment, and
// when it runs as root programs start in a user namespace without host
// capabilities. Use it for development or inside an already isolated
// host such as the sandbox server's pod.
type LocalRunner struct {
	cfg    LocalConfig
	python string
	iso    isolation
}

var _ Runner = (*LocalRunner)(nil)

// NewLocalRunner checks that the interpreter exists and returns a runner.
func NewLocalRunner(cfg LocalConfig) (*LocalRunner, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64 << 10
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	iso, err := newIsolation(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("local sandbox: %w", err)
	}
	if err := protectHostProcess(); err != nil {
		return nil, fmt.Errorf("local sandbox: protect server process: %w", err)
	}
	path, err := resolveInterpreter(cfg.Python, iso)
	if err != nil {
		return nil, fmt.Errorf("local sandbox: %w", err)
	}
	return &LocalRunner{cfg: cfg, python: path, iso: iso}, nil
}

// resolveInterpreter returns the interpreter binary behind python, looking
// through wrapper scripts (version manager shims) that would not work in
// the isolate's reduced environment. The probe runs under iso, so hosts
// that refuse the namespaces fail here rather than on the first job.
func resolveInterpreter(python string, iso isolation) (string, error) {
	path, err := exec.LookPath(python)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	probe := exec.CommandContext(ctx, path, "-c", "import sys; print(sys.executable)")
	iso.apply(probe)
	out, err := probe.Output()
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", path, err)
	}
	if exe := strings.TrimSpace(string(out)); exe != "" {
		return exe, nil
	}
	return path, nil
}

// Name implements Runner.
func (r *LocalRunner) Name() string { return "local" }

// Close implements Runner.
func (r *LocalRunner) Close() error { return nil }

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, job *Job) (*Outcome, error) {
	dir, err := os.MkdirTemp(r.cfg.TempDir, "flowgen-run-*")
	if err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove job dir", "dir", dir, "error", err)
		}
	}()

	if err := prepareDir(dir, job); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.python, harnessFile, dir)
	cmd.Dir = dir
	cmd.Env = buildEnv(dir, r.cfg.PassEnv, job.Env)
	cmd.WaitDelay = r.cfg.KillGrace
	isolateProcessGroup(cmd)
	r.iso.apply(cmd)

	stdout := &capWriter{max: r.cfg.MaxOutputBytes}
	stderr := &capWriter{max: r.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start interpreter: %w", err)
	}
	observability.SandboxInFlight.Inc()
	defer observability.SandboxInFlight.Dec()
	debug.Log("sandbox", "isolate started", "runtime", "local", "execution_id", job.ExecutionID, "pid", cmd.Process.Pid)

	var watch *memoryWatch
	if r.cfg.MaxMemoryMB > 0 {
		watch = newMemoryWatch(r.cfg.MaxMemoryMB, 0)
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go watch.run(watchCtx, cmd.Process.Pid, func() { _ = killGroup(cmd) })
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	debug.Log("sandbox", "isolate exited", "runtime", "local", "execution_id", job.ExecutionID,
		"duration", elapsed, "error", waitErr)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if watch != nil && watch.exceeded.Load() {
		return &Outcome{
			Err: &ProgramError{
				Type:    "MemoryError",
				Message: fmt.Sprintf("memory limit of %d MB exceeded", r.cfg.MaxMemoryMB),
			},
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: elapsed,
		}, nil
	}

	out, err := readReportFile(dir)
	if err != nil {
		if waitErr != nil {
			err = waitErr
		} else if !errors.Is(err, errNoReport) {
			return nil, err
		}
		return nil, fmt.Errorf("harness failed: %w: %s", err, debug.Truncate(stderr.String(), 500))
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	out.Duration = elapsed
	return out, nil
}
