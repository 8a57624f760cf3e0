package sandbox

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
)

// Acquirer provides a sandbox server for one job. The release function
// must be called once the job is done.
type Acquirer interface {
	Acquire(ctx context.Context, executionID string) (baseURL string, release func(), err error)
}

// StaticAcquirer always returns the same sandbox server.
type StaticAcquirer string

// Acquire implements Acquirer.
func (a StaticAcquirer) Acquire(context.Context, string) (string, func(), error) {
	return string(a), func() {}, nil
}

// RemoteRunner sends each job to a sandbox server obtained from an
// Acquirer.
type RemoteRunner struct {
	acquirer Acquirer
	client   *Client
}

var _ Runner = (*RemoteRunner)(nil)

// NewRemoteRunner creates a runner. A nil client means NewClient(nil).
func NewRemoteRunner(acquirer Acquirer, client *Client) *RemoteRunner {
	if client == nil {
		client = NewClient(nil)
	}
	return &RemoteRunner{acquirer: acquirer, client: client}
}

// Name implements Runner.
func (r *RemoteRunner) Name() string { return "remote" }

// Close implements Runner.
func (r *RemoteRunner) Close() error { return nil }

// Run implements Runner.
func (r *RemoteRunner) Run(ctx context.Context, job *Job) (*Outcome, error) {
	baseURL, release, err := r.acquirer.Acquire(ctx, job.ExecutionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquire sandbox: %w", err)
	}
	defer release()

	observability.SandboxInFlight.Inc()
	defer observability.SandboxInFlight.Dec()
	debug.Log("sandbox", "isolate acquired", "runtime", "remote", "execution_id", job.ExecutionID, "url", baseURL)

	resp, err := r.client.Execute(ctx, baseURL, &ExecuteRequest{
		ExecutionID:     job.ExecutionID,
		Code:            job.Code,
		UserInput:       job.UserInput,
		AttachedFileIDs: job.AttachedFileIDs,
		Env:             job.Env,
		TimeoutSeconds:  remoteTimeout(ctx),
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		Duration: time.Duration(resp.ExecutionTimeMs) * time.Millisecond,
	}
	switch resp.Status {
	case StatusCompleted:
		out.Result = resp.Result
	case StatusFailed:
		if resp.Error == nil {
			return nil, fmt.Errorf("sandbox reported failure without an error")
		}
		out.Err = resp.Error
	case StatusTimeout:
		return nil, fmt.Errorf("sandbox deadline expired before ours: %w", context.DeadlineExceeded)
	default:
		return nil, fmt.Errorf("sandbox returned unknown status %q", resp.Status)
	}
	return out, nil
}

// remoteTimeout gives the server one second more than the local deadline,
// so the local deadline decides the outcome.
func remoteTimeout(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return int(DefaultServerTimeout.Seconds())
	}
	return int(math.Ceil(time.Until(deadline).Seconds())) + 1
}
