package capability

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	iss, err := NewIssuer([]byte("test-signing-key"))
	if err != nil {
		t.Fatal(err)
	}
	tok, err := iss.Issue("exec-1", []int{4, 7}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ExecutionID() != "exec-1" || !slices.Equal(claims.Files, []int{4, 7}) {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.AllowsFiles([]int{7}) || !claims.AllowsFiles(nil) || claims.AllowsFiles([]int{4, 5}) {
		t.Error("AllowsFiles mismatch")
	}
}

func TestVerifyRejects(t *testing.T) {
	iss, _ := NewIssuer([]byte("key-a"))
	other, _ := NewIssuer([]byte("key-b"))

	expired, _ := iss.Issue("e", nil, time.Now().Add(-time.Second))
	foreign, _ := other.Issue("e", nil, time.Now().Add(time.Minute))
	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "e", Issuer: tokenIssuer})
	unsigned, _ := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":       expired,
		"wrong key":     foreign,
		"alg none":      unsigned,
		"garbage":       "not-a-token",
		"empty subject": mustIssue(t, iss, "", time.Now().Add(time.Minute)),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := iss.Verify(tok); err == nil {
				t.Error("expected verification to fail")
			}
		})
	}
}

func TestRevoke(t *testing.T) {
	iss, _ := NewIssuer(nil)
	tok := mustIssue(t, iss, "exec-r", time.Now().Add(time.Minute))
	keep := mustIssue(t, iss, "exec-k", time.Now().Add(time.Minute))

	iss.Revoke("exec-r")
	if _, err := iss.Verify(tok); !errors.Is(err, ErrRevoked) {
		t.Errorf("err = %v, want ErrRevoked", err)
	}
	if _, err := iss.Verify(keep); err != nil {
		t.Errorf("unrelated token rejected: %v", err)
	}
}

func TestRevokedEntriesExpire(t *testing.T) {
	iss, _ := NewIssuer([]byte("k"))
	now := time.Now()
	iss.now = func() time.Time { return now }

	_ = mustIssue(t, iss, "old", now.Add(time.Minute))
	iss.Revoke("old")

	now = now.Add(2 * time.Minute)
	iss.Revoke("new")

	iss.mu.Lock()
	defer iss.mu.Unlock()
	if _, ok := iss.revoked["old"]; ok {
		t.Error("revocation outlived the token expiry")
	}
	if _, ok := iss.revoked["new"]; !ok {
		t.Error("new revocation missing")
	}
}

func TestRandomKeyWhenEmpty(t *testing.T) {
	a, _ := NewIssuer(nil)
	b, _ := NewIssuer(nil)
	tok := mustIssue(t, a, "e", time.Now().Add(time.Minute))
	if _, err := b.Verify(tok); err == nil || !strings.Contains(err.Error(), "invalid capability token") {
		t.Errorf("err = %v", err)
	}
}

func mustIssue(t *testing.T, iss *Issuer, id string, exp time.Time) string {
	t.Helper()
	tok, err := iss.Issue(id, nil, exp)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}
