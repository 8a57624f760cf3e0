// Package noop provides an authenticator that admits every request as the
// anonymous identity. It backs auth.type "none".
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/flowgen/pkg/auth"
)

// Authenticator always votes Yes.
type Authenticator struct{}

// Authenticate returns auth.Anonymous.
func (Authenticator) Authenticate(context.Context, *http.Request) auth.Result {
	return auth.Result{Decision: auth.Yes, Identity: auth.Anonymous()}
}
