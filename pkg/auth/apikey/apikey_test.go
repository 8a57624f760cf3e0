package apikey

import (
	"context"
	"net/http"
	"testing"

	"github.com/rhuss/flowgen/pkg/auth"
)

func newTestAuth() *Authenticator {
	return New([]Key{
		{Key: "sk-test-key-1", Identity: auth.Identity{Subject: "alice", ServiceTier: "standard"}},
		{Key: "sk-test-key-2", Identity: auth.Identity{Subject: "bob", ServiceTier: "premium"}},
		{Key: "", Identity: auth.Identity{Subject: "nobody"}},
	})
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		value       string
		want        auth.Decision
		wantSubject string
	}{
		{"bearer key", "Authorization", "Bearer sk-test-key-1", auth.Yes, "alice"},
		{"second key", "Authorization", "Bearer sk-test-key-2", auth.Yes, "bob"},
		{"x-api-key header", "X-API-Key", "sk-test-key-2", auth.Yes, "bob"},
		{"wrong key", "Authorization", "Bearer sk-wrong", auth.No, ""},
		{"empty bearer", "Authorization", "Bearer ", auth.No, ""},
		{"basic auth", "Authorization", "Basic dXNlcjpwYXNz", auth.Abstain, ""},
		{"no header", "", "", auth.Abstain, ""},
	}
	a := newTestAuth()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/workflows", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			res := a.Authenticate(context.Background(), r)
			if res.Decision != tt.want {
				t.Fatalf("Decision = %d, want %d", res.Decision, tt.want)
			}
			if tt.want == auth.Yes && res.Identity.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", res.Identity.Subject, tt.wantSubject)
			}
		})
	}
}

func TestIdentityIsCopied(t *testing.T) {
	a := newTestAuth()
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer sk-test-key-1")

	first := a.Authenticate(context.Background(), r)
	first.Identity.Subject = "mallory"
	second := a.Authenticate(context.Background(), r)
	if second.Identity.Subject != "alice" {
		t.Errorf("Subject = %q after caller mutation", second.Identity.Subject)
	}
}
