// Package transport defines the contract between flowgen's transports and
// the workflow engine, and the HTTP middleware shared by them.
//
// WorkflowService is the engine-facing interface; the HTTP adapter in
// transport/http and the MCP server in transport/mcp both consume it.
// Errors cross the boundary as *api.APIError and are mapped to HTTP status
// codes by HTTPStatusFromError; SanitizeError hides server error details
// outside debug mode.
//
// Middleware wraps http.Handler. The built-in set covers panic recovery,
// request IDs (X-Request-ID) and structured request logging via log/slog.
package transport
