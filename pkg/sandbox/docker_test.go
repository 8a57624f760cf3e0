package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker simulates a daemon running one container whose result file
// and logs are given up front.
type fakeDocker struct {
	mu sync.Mutex

	config     *container.Config
	hostConfig *container.HostConfig
	copied     map[string]string
	started    bool
	removed    []string

	result   string // result.json content; empty means missing
	stdout   string
	stderr   string
	oom      bool
	exitCode int64
	block    bool // ContainerWait never reports
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.config, f.hostConfig = cfg, host
	return container.CreateResponse{ID: "c123"}, nil
}

func (f *fakeDocker) CopyToContainer(_ context.Context, _, dst string, content io.Reader, _ container.CopyToContainerOptions) error {
	f.copied = map[string]string{}
	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		data, _ := io.ReadAll(tr)
		f.copied[dst+hdr.Name] = string(data)
	}
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	f.started = true
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.block {
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
		return statusCh, errCh
	}
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerInspect(context.Context, string) (container.InspectResponse, error) {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{OOMKilled: f.oom}},
	}, nil
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) CopyFromContainer(_ context.Context, _, src string) (io.ReadCloser, container.PathStat, error) {
	if f.result == "" {
		return nil, container.PathStat{}, errors.New("Could not find the file " + src)
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "result.json", Mode: 0o644, Size: int64(len(f.result))})
	_, _ = tw.Write([]byte(f.result))
	_ = tw.Close()
	return io.NopCloser(&buf), container.PathStat{Name: "result.json"}, nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.Force {
		f.removed = append(f.removed, id)
	}
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerRunnerCompleted(t *testing.T) {
	fake := &fakeDocker{result: `{"ok":true,"result":"OK"}`, stdout: "hello\n", stderr: "note\n"}
	r := newDockerRunner(fake, DockerConfig{Network: "none"})

	out, err := r.Run(context.Background(), &Job{
		ExecutionID: "e1",
		Code:        "async def execute_workflow(u):\n    return 'OK'\n",
		UserInput:   "in",
		Env:         map[string]string{"FLOWGEN_CAPABILITY_TOKEN": "tok"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Result != "OK" || out.Stdout != "hello\n" || out.Stderr != "note\n" {
		t.Errorf("out = %+v", out)
	}

	if fake.config.Image != "python:3.12-slim" || !slices.Equal(fake.config.Cmd, []string{"python3", "harness.py", "/work"}) {
		t.Errorf("config = %+v", fake.config)
	}
	if !slices.Contains(fake.config.Env, "FLOWGEN_CAPABILITY_TOKEN=tok") || !slices.Contains(fake.config.Env, "HOME=/work") {
		t.Errorf("env = %v", fake.config.Env)
	}
	if fake.config.Labels["flowgen.execution-id"] != "e1" {
		t.Errorf("labels = %v", fake.config.Labels)
	}
	hc := fake.hostConfig
	if hc.NetworkMode != "none" || hc.Memory != 512<<20 || *hc.PidsLimit != 128 || !slices.Equal(hc.CapDrop, []string{"ALL"}) {
		t.Errorf("host config = %+v", hc)
	}

	if !strings.Contains(fake.copied["/work/workflow.py"], "execute_workflow") {
		t.Errorf("copied files = %v", fake.copied)
	}
	if fake.copied["/work/input.json"] != `{"user_input":"in","attached_file_ids":[]}` {
		t.Errorf("input = %q", fake.copied["/work/input.json"])
	}
	if _, ok := fake.copied["/work/output/"]; !ok {
		t.Error("output directory not created")
	}
	if !slices.Equal(fake.removed, []string{"c123"}) {
		t.Errorf("removed = %v", fake.removed)
	}
}

func TestDockerRunnerProgramError(t *testing.T) {
	fake := &fakeDocker{result: `{"ok":false,"error_type":"ZeroDivisionError","message":"division by zero"}`, exitCode: 0}
	out, err := newDockerRunner(fake, DockerConfig{}).Run(context.Background(), &Job{Code: "c"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Err == nil || out.Err.Error() != "ZeroDivisionError: division by zero" {
		t.Errorf("out = %+v", out)
	}
}

func TestDockerRunnerOOM(t *testing.T) {
	fake := &fakeDocker{oom: true, exitCode: 137}
	out, err := newDockerRunner(fake, DockerConfig{MemoryMB: 128}).Run(context.Background(), &Job{Code: "c"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Err == nil || out.Err.Type != "MemoryError" || out.Err.Message != "memory limit of 128 MB exceeded" {
		t.Errorf("out = %+v", out)
	}
	if len(fake.removed) != 1 {
		t.Error("container not removed")
	}
}

func TestDockerRunnerMissingResult(t *testing.T) {
	fake := &fakeDocker{stderr: "python3: not found", exitCode: 127}
	_, err := newDockerRunner(fake, DockerConfig{}).Run(context.Background(), &Job{Code: "c"})
	if !errors.Is(err, errNoReport) {
		t.Fatalf("err = %v, want errNoReport", err)
	}
	if !strings.Contains(err.Error(), "exit code 127") || !strings.Contains(err.Error(), "python3: not found") {
		t.Errorf("err = %v", err)
	}
}

func TestDockerRunnerDeadline(t *testing.T) {
	fake := &fakeDocker{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDockerRunner(fake, DockerConfig{}).Run(ctx, &Job{Code: "c"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
	if !slices.Equal(fake.removed, []string{"c123"}) {
		t.Errorf("container must be removed after cancellation, removed = %v", fake.removed)
	}
}
