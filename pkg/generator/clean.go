package generator

import (
	"regexp"
	"strings"
)

var (
	asyncEntryRe = regexp.MustCompile(`(?m)^async[ \t]+def[ \t]+execute_workflow[ \t]*\(`)
	syncEntryRe  = regexp.MustCompile(`(?m)^def([ \t]+execute_workflow[ \t]*\()`)
)

type fencedBlock struct {
	lang string
	body string
}

// Clean extracts the program from a model response. It prefers the first
// fenced block tagged python, py or python3, then the first fenced block
// of any tag, then the whole text. A fence that is never closed runs to
// the end of the response. When the program has no async entry point,
// every module-level "def execute_workflow(" is made async.
func Clean(raw string) string {
	code := raw
	blocks := fencedBlocks(raw)
	if len(blocks) > 0 {
		code = blocks[0].body
		for _, b := range blocks {
			if isPythonTag(b.lang) {
				code = b.body
				break
			}
		}
	}
	code = strings.TrimSpace(code)

	if !asyncEntryRe.MatchString(code) {
		code = syncEntryRe.ReplaceAllString(code, "async def$1")
	}
	return code
}

func fencedBlocks(text string) []fencedBlock {
	var (
		blocks []fencedBlock
		cur    *fencedBlock
		body   []string
	)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if cur == nil {
			if lang, ok := strings.CutPrefix(trimmed, "```"); ok {
				cur = &fencedBlock{lang: infoTag(lang)}
				body = body[:0]
			}
			continue
		}
		if trimmed == "```" {
			cur.body = strings.Join(body, "\n")
			blocks = append(blocks, *cur)
			cur = nil
			continue
		}
		body = append(body, line)
	}
	if cur != nil {
		cur.body = strings.Join(body, "\n")
		blocks = append(blocks, *cur)
	}
	return blocks
}

func infoTag(info string) string {
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], "{}."))
}

func isPythonTag(tag string) bool {
	switch tag {
	case "python", "py", "python3":
		return true
	}
	return false
}
