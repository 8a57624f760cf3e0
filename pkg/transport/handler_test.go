package transport

import (
	"context"
	"errors"
	"testing"
)

func TestHealthCheckerFunc(t *testing.T) {
	want := errors.New("store down")
	var hc HealthChecker = HealthCheckerFunc(func(context.Context) error { return want })
	if err := hc.HealthCheck(context.Background()); err != want {
		t.Errorf("HealthCheck = %v, want %v", err, want)
	}
}
