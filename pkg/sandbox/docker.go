package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path"
	"slices"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
)

// containerWorkDir is where job files live inside the container.
const containerWorkDir = "/work"

// DockerConfig configures the container runtime.
type DockerConfig struct {
	// Image must provide python3 and aiohttp. Defaults to "python:3.12-slim".
	Image string

	// Network is the container network mode. Programs reach the capability
	// gateway through it; "none" cuts them off entirely. Defaults to "bridge".
	Network string

	// MemoryMB is the container memory limit. Defaults to 512.
	MemoryMB int

	// PidsLimit bounds the number of processes. Defaults to 128.
	PidsLimit int64

	// CPUs is the CPU quota in cores. Zero means unlimited.
	CPUs float64

	// MaxOutputBytes caps captured stdout and stderr each. Defaults to 64 KiB.
	MaxOutputBytes int
}

// dockerAPI is the part of the Docker client the runner uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerRunner runs each job in a new container that is force-removed
// afterwards.
type DockerRunner struct {
	cli dockerAPI
	cfg DockerConfig
}

var _ Runner = (*DockerRunner)(nil)

// NewDockerRunner connects to the daemon configured in the environment
// (DOCKER_HOST and friends).
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return newDockerRunner(cli, cfg), nil
}

func newDockerRunner(cli dockerAPI, cfg DockerConfig) *DockerRunner {
	if cfg.Image == "" {
		cfg.Image = "python:3.12-slim"
	}
	if cfg.Network == "" {
		cfg.Network = "bridge"
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = 512
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = 128
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64 << 10
	}
	return &DockerRunner{cli: cli, cfg: cfg}
}

// Name implements Runner.
func (r *DockerRunner) Name() string { return "docker" }

// Close implements Runner.
func (r *DockerRunner) Close() error { return r.cli.Close() }

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, job *Job) (*Outcome, error) {
	archive, err := jobArchive(job)
	if err != nil {
		return nil, err
	}

	pids := r.cfg.PidsLimit
	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      r.cfg.Image,
			Cmd:        []string{"python3", harnessFile, containerWorkDir},
			WorkingDir: containerWorkDir,
			Env:        buildEnv(containerWorkDir, nil, job.Env),
			Labels:     map[string]string{"flowgen.execution-id": job.ExecutionID},
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(r.cfg.Network),
			Resources: container.Resources{
				Memory:    int64(r.cfg.MemoryMB) << 20,
				PidsLimit: &pids,
				NanoCPUs:  int64(r.cfg.CPUs * 1e9),
			},
			CapDrop:     []string{"ALL"},
			SecurityOpt: []string{"no-new-privileges"},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove container", "container", id, "error", err)
		}
	}()

	if err := r.cli.CopyToContainer(ctx, id, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copy job files: %w", err)
	}

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}
	observability.SandboxInFlight.Inc()
	defer observability.SandboxInFlight.Dec()
	debug.Log("sandbox", "isolate started", "runtime", "docker", "execution_id", job.ExecutionID, "container", id)

	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wait for container: %w", err)
	case st := <-statusCh:
		if st.Error != nil {
			return nil, fmt.Errorf("wait for container: %s", st.Error.Message)
		}
		exitCode = st.StatusCode
	}
	elapsed := time.Since(start)

	stdout, stderr := r.logs(ctx, id)

	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err == nil && inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.OOMKilled {
		return &Outcome{
			Err: &ProgramError{
				Type:    "MemoryError",
				Message: fmt.Sprintf("memory limit of %d MB exceeded", r.cfg.MemoryMB),
			},
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: elapsed,
		}, nil
	}

	out, err := r.readResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("harness failed (exit code %d): %w: %s", exitCode, err, debug.Truncate(stderr, 500))
	}
	out.Stdout = stdout
	out.Stderr = stderr
	out.Duration = elapsed
	return out, nil
}

func (r *DockerRunner) logs(ctx context.Context, id string) (string, string) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		debug.Log("sandbox", "container logs unavailable", "container", id, "error", err)
		return "", ""
	}
	defer rc.Close()
	stdout := &capWriter{max: r.cfg.MaxOutputBytes}
	stderr := &capWriter{max: r.cfg.MaxOutputBytes}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		debug.Log("sandbox", "container logs truncated", "container", id, "error", err)
	}
	return stdout.String(), stderr.String()
}

func (r *DockerRunner) readResult(ctx context.Context, id string) (*Outcome, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, id, path.Join(containerWorkDir, resultFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoReport, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, errNoReport
		}
		if err != nil {
			return nil, fmt.Errorf("read result archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return readReport(tr)
		}
	}
}

// jobArchive packs the job files under work/ for CopyToContainer.
func jobArchive(job *Job) (io.Reader, error) {
	files, err := jobFiles(job)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()
	dirs := []string{"work/", "work/" + outputDir + "/"}
	for _, d := range dirs {
		if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: d, Mode: 0o777, ModTime: now}); err != nil {
			return nil, fmt.Errorf("archive %s: %w", d, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(files)) {
		data := files[name]
		hdr := &tar.Header{Typeflag: tar.TypeReg, Name: "work/" + name, Mode: 0o644, Size: int64(len(data)), ModTime: now}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("archive %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("archive %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &buf, nil
}
