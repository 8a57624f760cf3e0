package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/rhuss/flowgen/pkg/api"
)

// Recovery returns middleware that turns a panic into a server_error
// response. With debugMode off the client sees only "internal server
// error"; the panic value and stack are always logged.
func Recovery(debugMode bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("panic in handler",
					"request_id", RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"panic", v,
					"stack", string(debug.Stack()),
				)
				if rec.status != 0 {
					// Headers are gone; nothing useful can be sent.
					return
				}
				apiErr := api.NewServerError(fmt.Sprintf("panic: %v", v))
				WriteAPIError(w, SanitizeError(apiErr, debugMode))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
