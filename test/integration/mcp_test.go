package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/flowgen/pkg/api"
)

type bearer struct {
	key  string
	next http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.key)
	return b.next.RoundTrip(r)
}

func TestMCPCreateAndExecute(t *testing.T) {
	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   testEnv.BaseURL() + "/mcp",
		HTTPClient: &http.Client{Transport: bearer{key: testAPIKey, next: http.DefaultTransport}},
	}, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "create_workflow",
		Arguments: map[string]any{"description": "echo via mcp"},
	})
	if err != nil {
		t.Fatalf("create_workflow: %v", err)
	}
	var wf api.Workflow
	decodeToolResult(t, res, &wf)
	if wf.Status != api.WorkflowStatusReady {
		t.Fatalf("status = %q, want ready", wf.Status)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "execute_workflow",
		Arguments: map[string]any{"workflow_id": wf.ID, "user_input": "from mcp"},
	})
	if err != nil {
		t.Fatalf("execute_workflow: %v", err)
	}
	var exec api.WorkflowExecution
	decodeToolResult(t, res, &exec)
	if exec.Result == nil || *exec.Result != "from mcp" {
		t.Errorf("result = %v, want from mcp", exec.Result)
	}
}

func TestMCPRequiresKey(t *testing.T) {
	resp := do(t, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"}, false)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func decodeToolResult(t *testing.T, res *mcp.CallToolResult, target any) {
	t.Helper()
	if res.IsError || len(res.Content) == 0 {
		t.Fatalf("tool error: %+v", res.Content)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want text", res.Content[0])
	}
	if err := json.Unmarshal([]byte(tc.Text), target); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
}
