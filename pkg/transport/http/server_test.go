package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	gohttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/transport"
)

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(data)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	svc := &mockService{create: func(req *api.CreateWorkflowRequest) (*api.Workflow, error) {
		return api.NewWorkflow(req.Description, "", nil), nil
	}}
	srv := NewServer(svc, nil, WithLogger(quietLogger()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	resp, err := gohttp.Post("http://"+addr+"/workflows", "application/json",
		jsonBody(t, api.CreateWorkflowRequest{Description: "echo"}))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}
	if resp.Header.Get(transport.RequestIDHeader) == "" {
		t.Error("response has no request id")
	}

	var got api.Workflow
	json.NewDecoder(resp.Body).Decode(&got)
	if got.Description != "echo" {
		t.Errorf("description = %q, want %q", got.Description, "echo")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func TestServerGracefulShutdown(t *testing.T) {
	svc := &mockService{execute: func(id string, req *api.ExecuteWorkflowRequest) (*api.WorkflowExecution, error) {
		time.Sleep(200 * time.Millisecond)
		return api.NewExecution(id, *req.UserInput, nil), nil
	}}
	srv := NewServer(svc, nil,
		WithShutdownTimeout(5*time.Second),
		WithLogger(quietLogger()),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Post("http://"+addr+"/workflows/wf_1/execute", "application/json",
			bytes.NewReader([]byte(`{"user_input":"x"}`)))
		if err != nil {
			responseCh <- 0
			return
		}
		defer resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	status := <-responseCh
	if status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerRunStopsOnContextCancel(t *testing.T) {
	srv := NewServer(&mockService{}, nil,
		WithAddr("127.0.0.1:0"),
		WithShutdownTimeout(time.Second),
		WithLogger(quietLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServerRecoversFromPanics(t *testing.T) {
	svc := &mockService{create: func(*api.CreateWorkflowRequest) (*api.Workflow, error) {
		panic("boom")
	}}
	srv := NewServer(svc, nil, WithLogger(quietLogger()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := gohttp.Post(ts.URL+"/workflows", "application/json", jsonBody(t, api.CreateWorkflowRequest{Description: "d"}))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != gohttp.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusInternalServerError)
	}
}

func TestServerExtraMiddlewareAndHandlers(t *testing.T) {
	var sawRequestID string
	mw := func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			sawRequestID = transport.RequestIDFromContext(r.Context())
			if r.Header.Get("X-Block") != "" {
				w.WriteHeader(gohttp.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	srv := NewServer(&mockService{}, nil,
		WithLogger(quietLogger()),
		WithMiddleware(mw),
		WithHandler("GET /extra", gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			w.WriteHeader(gohttp.StatusAccepted)
		})),
	)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := gohttp.Get(ts.URL + "/extra")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusAccepted)
	}
	if sawRequestID == "" {
		t.Error("middleware ran before the request id was assigned")
	}

	req, _ := gohttp.NewRequest(gohttp.MethodGet, ts.URL+"/extra", nil)
	req.Header.Set("X-Block", "1")
	resp, err = gohttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusForbidden)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(&mockService{}, nil,
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithShutdownTimeout(10*time.Second),
		WithTimeouts(time.Second, 2*time.Second),
		WithDebug(true),
		WithVersion("1.0.0"),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
	if srv.httpServer.ReadTimeout != time.Second || srv.httpServer.WriteTimeout != 2*time.Second {
		t.Errorf("timeouts = %v/%v", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
	if !srv.adapter.cfg.Debug || srv.adapter.cfg.Version != "1.0.0" {
		t.Errorf("adapter config = %+v", srv.adapter.cfg)
	}
}
