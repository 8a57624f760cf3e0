package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// compileScript reads a program from stdin and compiles it without running
// it. It prints {} on success, or the SyntaxError message and line.
const compileScript = `import json, sys
src = sys.stdin.read()
try:
    compile(src, "workflow.py", "exec")
except SyntaxError as e:
    print(json.dumps({"msg": e.msg, "line": e.lineno or 0}))
except ValueError as e:
    print(json.dumps({"msg": str(e), "line": 0}))
else:
    print("{}")
`

// DefaultCheckTimeout bounds a single interpreter invocation.
const DefaultCheckTimeout = 10 * time.Second

// InterpreterChecker compiles the program with a Python interpreter. It
// reports exactly what the runtime that executes the program would reject.
type InterpreterChecker struct {
	// Python is the interpreter command. Defaults to "python3".
	Python string
	// Timeout bounds one check. Defaults to DefaultCheckTimeout.
	Timeout time.Duration
}

// Name implements SyntaxChecker.
func (c InterpreterChecker) Name() string { return "interpreter" }

// Check implements SyntaxChecker.
func (c InterpreterChecker) Check(ctx context.Context, src string) error {
	python := c.Python
	if python == "" {
		python = "python3"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, python, "-I", "-c", compileScript)
	cmd.Stdin = strings.NewReader(src)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("running %s: %w: %s", python, err, strings.TrimSpace(stderr.String()))
	}

	var report struct {
		Msg  string `json:"msg"`
		Line int    `json:"line"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &report); err != nil {
		return fmt.Errorf("decoding %s output %q: %w", python, out, err)
	}
	if report.Msg != "" {
		return &SyntaxError{Msg: report.Msg, Line: report.Line}
	}
	return nil
}

// NewSyntaxChecker builds the checker for a configured mode:
//   - "lexical": LexicalChecker only
//   - "interpreter": InterpreterChecker only; python must be on PATH
//   - "auto" or "": the interpreter when available, else lexical
func NewSyntaxChecker(mode, python string) (SyntaxChecker, error) {
	if python == "" {
		python = "python3"
	}
	switch mode {
	case "lexical":
		return LexicalChecker{}, nil
	case "interpreter":
		if _, err := exec.LookPath(python); err != nil {
			return nil, fmt.Errorf("syntax mode interpreter: %w", err)
		}
		return InterpreterChecker{Python: python}, nil
	case "auto", "":
		if _, err := exec.LookPath(python); err != nil {
			return LexicalChecker{}, nil
		}
		return ChainChecker{InterpreterChecker{Python: python}, LexicalChecker{}}, nil
	default:
		return nil, fmt.Errorf("unknown syntax mode %q", mode)
	}
}
