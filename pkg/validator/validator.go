// Package validator decides whether a generated program is acceptable to
// run. It has no state and no side effects beyond metrics and debug logs.
//
// Checks run in a fixed order and stop at the first failure:
//  1. the source parses
//  2. a module-level execute_workflow with one parameter exists
//  3. that entry point is declared async
//  4. asyncio and aiohttp are imported
package validator

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rhuss/flowgen/pkg/debug"
	"github.com/rhuss/flowgen/pkg/observability"
)

// Rejection reasons, stable for callers and clients.
const (
	ReasonMissingEntryPoint = "missing execute_workflow function"
	ReasonNotAsync          = "execute_workflow must be asynchronous"
	reasonSyntaxPrefix      = "syntax error: "
	reasonImportPrefix      = "missing required import: "
)

// RequiredImports lists the modules every program must import, in check order.
var RequiredImports = []string{"asyncio", "aiohttp"}

// Result is the outcome of a validation. Reason is empty when Valid.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func invalid(check, reason string) Result {
	observability.ValidationFailuresTotal.WithLabelValues(check).Inc()
	debug.Log("validator", "rejected", "check", check, "reason", reason)
	return Result{Reason: reason}
}

var (
	entryPointRe = regexp.MustCompile(`(?m)^(async[ \t]+)?def[ \t]+execute_workflow[ \t]*\(`)
	importRe     = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([^\n;]+)`)
	fromImportRe = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([A-Za-z_][\w.]*)[ \t]+import\b`)
)

// Validator runs the checks. The zero value is not usable; use New.
type Validator struct {
	syntax SyntaxChecker
}

// New returns a Validator using syntax for the parse check. A nil checker
// means LexicalChecker.
func New(syntax SyntaxChecker) *Validator {
	if syntax == nil {
		syntax = LexicalChecker{}
	}
	return &Validator{syntax: syntax}
}

// Validate checks code and returns the first failed rule, or a valid Result.
func (v *Validator) Validate(ctx context.Context, code string) Result {
	if err := v.syntax.Check(ctx, code); err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			return invalid("syntax", reasonSyntaxPrefix+se.Error())
		}
		// The checker could not run. The structural checks below still apply.
		slog.Warn("syntax check unavailable", "checker", v.syntax.Name(), "error", err)
	}

	body, ok := stripLiterals(code)
	if !ok {
		debug.Log("validator", "tokenizer disagreed with syntax checker, matching on raw source")
	}

	hasEntry, isAsync := entryPoint(body)
	if !hasEntry {
		return invalid("entry_point", ReasonMissingEntryPoint)
	}
	if !isAsync {
		return invalid("async", ReasonNotAsync)
	}

	imported := importedModules(body)
	for _, mod := range RequiredImports {
		if !imported[mod] {
			return invalid("import", reasonImportPrefix+mod)
		}
	}
	return Result{Valid: true}
}

// entryPoint reports whether body defines a module-level execute_workflow
// taking exactly one parameter, and whether such a definition is async.
func entryPoint(body string) (found, async bool) {
	for _, m := range entryPointRe.FindAllStringSubmatchIndex(body, -1) {
		params, ok := parameterList(body[m[1]:])
		if !ok || countParams(params) != 1 {
			continue
		}
		found = true
		if m[2] >= 0 {
			async = true
		}
	}
	return found, async
}

// parameterList returns the text between an already consumed '(' and its
// matching ')'.
func parameterList(s string) (string, bool) {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return s[:i], true
			}
		}
	}
	return "", false
}

// countParams counts top-level comma separated parameters, ignoring the
// bare '/' and '*' markers and a trailing comma.
func countParams(params string) int {
	n := 0
	depth := 0
	start := 0
	count := func(p string) {
		p = strings.TrimSpace(p)
		if p != "" && p != "/" && p != "*" {
			n++
		}
	}
	for i := 0; i < len(params); i++ {
		switch params[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				count(params[start:i])
				start = i + 1
			}
		}
	}
	count(params[start:])
	return n
}

// importedModules returns the top-level package names imported anywhere in
// body, through "import a, b.c as d" or "from a.b import c".
func importedModules(body string) map[string]bool {
	mods := make(map[string]bool)
	for _, m := range importRe.FindAllStringSubmatch(body, -1) {
		for _, part := range strings.Split(m[1], ",") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			mods[rootPackage(fields[0])] = true
		}
	}
	for _, m := range fromImportRe.FindAllStringSubmatch(body, -1) {
		mods[rootPackage(m[1])] = true
	}
	return mods
}

func rootPackage(name string) string {
	name = strings.Trim(name, "()\\ \t")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
