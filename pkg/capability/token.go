package capability

import (
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "flowgen"

// ErrRevoked is returned by Verify for a token whose execution has ended.
var ErrRevoked = errors.New("capability token revoked")

// Claims are carried by a capability token. The subject is the execution
// id; Files lists the file ids the execution was started with.
type Claims struct {
	Files []int `json:"files,omitempty"`
	jwtlib.RegisteredClaims
}

// ExecutionID returns the token subject.
func (c *Claims) ExecutionID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// AllowsFiles reports whether every id in ids was granted.
func (c *Claims) AllowsFiles(ids []int) bool {
	if c == nil {
		return len(ids) == 0
	}
	for _, id := range ids {
		if !slices.Contains(c.Files, id) {
			return false
		}
	}
	return true
}

// Issuer mints and verifies HS256 capability tokens, one per execution.
// Revoked executions are remembered until their tokens expire.
type Issuer struct {
	key []byte
	now func() time.Time

	mu      sync.Mutex
	expiry  map[string]time.Time // latest expiry issued per execution
	revoked map[string]time.Time // revoked execution -> forget after
}

// NewIssuer creates an issuer signing with key. An empty key is replaced
// by a random one, which invalidates tokens across restarts.
func NewIssuer(key []byte) (*Issuer, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &Issuer{
		key:     key,
		now:     time.Now,
		expiry:  make(map[string]time.Time),
		revoked: make(map[string]time.Time),
	}, nil
}

// Issue returns a token for executionID valid until expiresAt.
func (i *Issuer) Issue(executionID string, files []int, expiresAt time.Time) (string, error) {
	now := i.now()
	claims := &Claims{
		Files: slices.Clone(files),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   executionID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}

	i.mu.Lock()
	if expiresAt.After(i.expiry[executionID]) {
		i.expiry[executionID] = expiresAt
	}
	i.mu.Unlock()
	return signed, nil
}

// Revoke invalidates every token issued for executionID.
func (i *Issuer) Revoke(executionID string) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, until := range i.revoked {
		if now.After(until) {
			delete(i.revoked, id)
		}
	}
	until, ok := i.expiry[executionID]
	if !ok {
		until = now.Add(24 * time.Hour)
	}
	delete(i.expiry, executionID)
	i.revoked[executionID] = until
}

// Verify checks signature, expiry and revocation.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return i.key, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid capability token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid capability token: missing subject")
	}

	i.mu.Lock()
	_, revoked := i.revoked[claims.Subject]
	i.mu.Unlock()
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}
