// Package auth guards the flowgen API with pluggable authenticators.
//
// Authenticators are evaluated in a Chain. Each one votes Yes (identity
// found), No (credentials present but invalid) or Abstain (credentials it
// does not understand); the chain's default decides when everyone abstains.
// Middleware turns a chain, an optional Limiter and a bypass list into HTTP
// middleware that stores the caller's Identity in the request context.
//
// The capability gateway is not guarded here: generated programs
// authenticate there with their per-execution capability token.
package auth
