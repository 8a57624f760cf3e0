// Package kubernetes provides a sandbox.Acquirer that obtains one sandbox
// pod per execution through agent-sandbox SandboxClaim resources.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/sandbox"
)

// ExecutionLabel carries the execution id on every claim.
const ExecutionLabel = "flowgen.dev/execution-id"

const (
	defaultPort         = 8080
	defaultPollInterval = 500 * time.Millisecond
)

var _ sandbox.Acquirer = (*ClaimAcquirer)(nil)

// Config configures a ClaimAcquirer.
type Config struct {
	// Template is the SandboxTemplate the claims reference. The template's
	// pod must run the sandbox server.
	Template  string
	Namespace string

	// ReadyTimeout bounds the wait for a claimed sandbox to become ready.
	ReadyTimeout time.Duration

	// Port of the sandbox server in the pod. Defaults to 8080.
	Port int

	// PollInterval defaults to 500ms.
	PollInterval time.Duration
}

// ClaimAcquirer creates a SandboxClaim per execution, waits for the
// matching Sandbox to report Ready, and deletes the claim on release.
type ClaimAcquirer struct {
	client client.Client
	cfg    Config
}

// NewClaimAcquirer creates an acquirer using c, whose scheme must include
// the agent-sandbox types (see NewScheme).
func NewClaimAcquirer(c client.Client, cfg Config) *ClaimAcquirer {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	return &ClaimAcquirer{client: c, cfg: cfg}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Acquire implements sandbox.Acquirer.
func (a *ClaimAcquirer) Acquire(ctx context.Context, executionID string) (string, func(), error) {
	name := claimName(executionID)

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.cfg.Namespace,
			Labels:    map[string]string{ExecutionLabel: executionID},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{Name: a.cfg.Template},
		},
	}
	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	debug.Log("sandbox", "claim created", "claim", name, "namespace", a.cfg.Namespace, "template", a.cfg.Template)

	fqdn, err := a.waitForReady(ctx, name)
	if err != nil {
		a.deleteClaim(name)
		return "", nil, err
	}

	url := fmt.Sprintf("http://%s:%d", fqdn, a.cfg.Port)
	debug.Log("sandbox", "claim ready", "claim", name, "url", url)
	return url, func() { a.deleteClaim(name) }, nil
}

// waitForReady polls the Sandbox named like the claim until it is Ready
// and has a service FQDN.
func (a *ClaimAcquirer) waitForReady(ctx context.Context, name string) (string, error) {
	var fqdn string
	key := types.NamespacedName{Name: name, Namespace: a.cfg.Namespace}
	err := wait.PollUntilContextTimeout(ctx, a.cfg.PollInterval, a.cfg.ReadyTimeout, false,
		func(ctx context.Context) (bool, error) {
			sb := &sandboxv1alpha1.Sandbox{}
			if err := a.client.Get(ctx, key, sb); err != nil {
				// The controller has not created it yet.
				debug.Trace("sandbox", "waiting for sandbox", "claim", name, "error", err)
				return false, nil
			}
			if !isReady(sb) || sb.Status.ServiceFQDN == "" {
				return false, nil
			}
			fqdn = sb.Status.ServiceFQDN
			return true, nil
		})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("waiting for Sandbox %q: %w", name, ctx.Err())
		}
		return "", fmt.Errorf("sandbox %q not ready after %s", name, a.cfg.ReadyTimeout)
	}
	return fqdn, nil
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim runs on release and cleanup paths, after the caller's
// context may already be gone.
func (a *ClaimAcquirer) deleteClaim(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.cfg.Namespace},
	}
	if err := a.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "claim", name, "namespace", a.cfg.Namespace, "error", err)
		return
	}
	debug.Log("sandbox", "claim deleted", "claim", name)
}

// claimName derives a DNS-safe resource name from the execution id.
func claimName(executionID string) string {
	id := strings.ToLower(executionID)
	if id == "" || !isDNSLabel(id) {
		id = uuid.NewString()
	}
	return "flowgen-" + id
}

func isDNSLabel(s string) bool {
	if len(s) > 55 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return s[0] != '-' && s[len(s)-1] != '-'
}
