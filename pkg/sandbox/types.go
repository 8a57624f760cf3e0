package sandbox

// ExecuteRequest is the body of POST /execute on a sandbox server.
type ExecuteRequest struct {
	ExecutionID     string            `json:"execution_id,omitempty"`
	Code            string            `json:"code"`
	UserInput       string            `json:"user_input"`
	AttachedFileIDs []int             `json:"attached_file_ids,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
}

// Statuses reported by a sandbox server.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// ExecuteResponse is the response of POST /execute. Error is set when
// Status is failed.
type ExecuteResponse struct {
	Status          string        `json:"status"`
	Result          string        `json:"result,omitempty"`
	Error           *ProgramError `json:"error,omitempty"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
}

// HealthResponse is the response of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Runtime     string `json:"runtime"`
	Capacity    int    `json:"capacity"`
	CurrentLoad int    `json:"current_load"`
	UptimeSecs  int64  `json:"uptime_seconds"`
}
