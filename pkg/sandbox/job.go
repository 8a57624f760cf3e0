package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrAtCapacity is returned when a sandbox host refuses a job because all
// of its slots are taken.
var ErrAtCapacity = errors.New("sandbox at capacity")

// Job is one invocation of a program.
type Job struct {
	ExecutionID     string
	Code            string
	UserInput       string
	AttachedFileIDs []int
	// Env is added to the isolate's base environment.
	Env map[string]string
}

// ProgramError describes an exception raised by the program.
type ProgramError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

func (e *ProgramError) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// Outcome is what a program produced. Exactly one of Result and Err is
// meaningful: Err is nil when the program returned normally.
type Outcome struct {
	Result   string
	Err      *ProgramError
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes jobs in isolates.
type Runner interface {
	// Name identifies the runtime ("local", "docker", "remote").
	Name() string

	// Run executes job in a fresh isolate and tears the isolate down
	// before returning.
	Run(ctx context.Context, job *Job) (*Outcome, error)

	// Close releases runtime resources.
	Close() error
}
