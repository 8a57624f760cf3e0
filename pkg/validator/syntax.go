package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SyntaxError is a parse failure at a source line. Line is 1-based; zero
// means the checker could not attribute the failure to a line.
type SyntaxError struct {
	Msg  string
	Line int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Msg, e.Line)
	}
	return e.Msg
}

// SyntaxChecker decides whether a program parses. Check returns a
// *SyntaxError when the source is malformed, and any other error when the
// checker itself could not run.
type SyntaxChecker interface {
	Name() string
	Check(ctx context.Context, src string) error
}

// ChainChecker is a fallback chain: the first checker that manages to run
// decides. A checker that cannot run (missing interpreter, killed process)
// hands over to the next one; if none can run, their errors are joined.
type ChainChecker []SyntaxChecker

// Name implements SyntaxChecker.
func (c ChainChecker) Name() string {
	names := make([]string, len(c))
	for i, sc := range c {
		names[i] = sc.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Check implements SyntaxChecker.
func (c ChainChecker) Check(ctx context.Context, src string) error {
	var infra []error
	for _, sc := range c {
		err := sc.Check(ctx, src)
		var se *SyntaxError
		if err == nil || errors.As(err, &se) {
			return err
		}
		infra = append(infra, fmt.Errorf("%s: %w", sc.Name(), err))
	}
	return errors.Join(infra...)
}
