package validator

import (
	"context"
	"fmt"
	"strings"
)

// LexicalChecker checks Python source without an interpreter. It tokenizes
// string literals (prefixes, triple quotes, escapes), comments and line
// continuations, then reports the structural mistakes a tokenizer can see:
// unterminated strings, unbalanced or mismatched brackets, characters that
// are never valid outside literals, inconsistent dedents and block headers
// with no indented body. It does not build a grammar tree, so a program it
// accepts may still be rejected by the interpreter.
type LexicalChecker struct{}

// Name implements SyntaxChecker.
func (LexicalChecker) Name() string { return "lexical" }

// Check implements SyntaxChecker. It never fails to run.
func (LexicalChecker) Check(_ context.Context, src string) error {
	if _, err := scan(src); err != nil {
		return err
	}
	return nil
}

// stripLiterals returns src with every string literal and comment blanked
// out (newlines kept), so line-anchored patterns only see code. ok is false
// when src does not tokenize; the returned text is then src unchanged.
func stripLiterals(src string) (string, bool) {
	masked, err := scan(src)
	if err != nil {
		return src, false
	}
	return masked, true
}

type bracket struct {
	ch   byte
	line int
}

var closerFor = map[byte]byte{'(': ')', '[': ']', '{': '}'}

type lexer struct {
	src    string
	masked []byte
	pos    int
	line   int

	indents  []int
	brackets []bracket
	// header is the line of a ':'-terminated logical line still waiting
	// for its indented body, or 0.
	header  int
	lastSig byte
}

func scan(src string) (string, *SyntaxError) {
	lx := &lexer{
		src:     src,
		masked:  []byte(src),
		line:    1,
		indents: []int{0},
	}
	if err := lx.run(); err != nil {
		return "", err
	}
	return string(lx.masked), nil
}

func (lx *lexer) errorf(line int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Line: line}
}

func (lx *lexer) run() *SyntaxError {
	src := lx.src
	atLineStart := true

	for lx.pos < len(src) {
		if atLineStart {
			atLineStart = false
			if err := lx.indentation(); err != nil {
				return err
			}
			continue
		}

		c := src[lx.pos]
		switch {
		case c == '\n':
			if len(lx.brackets) == 0 {
				if lx.lastSig == ':' {
					lx.header = lx.line
				}
				lx.lastSig = 0
				atLineStart = true
			}
			lx.line++
			lx.pos++

		case c == '\\':
			next := lx.pos + 1
			if next < len(src) && src[next] == '\r' {
				next++
			}
			if next >= len(src) || src[next] != '\n' {
				return lx.errorf(lx.line, "unexpected character after line continuation character")
			}
			lx.pos = next + 1
			lx.line++

		case c == '#':
			for lx.pos < len(src) && src[lx.pos] != '\n' {
				lx.masked[lx.pos] = ' '
				lx.pos++
			}

		case c == '\'' || c == '"':
			if err := lx.stringLiteral(lx.pos, lx.pos); err != nil {
				return err
			}

		case isIdentByte(c) && !isDigit(c):
			end := lx.pos
			for end < len(src) && isIdentByte(src[end]) {
				end++
			}
			if end < len(src) && (src[end] == '\'' || src[end] == '"') && isStringPrefix(src[lx.pos:end]) {
				if err := lx.stringLiteral(lx.pos, end); err != nil {
					return err
				}
				continue
			}
			lx.lastSig = 'a'
			lx.pos = end

		case c == '(' || c == '[' || c == '{':
			lx.brackets = append(lx.brackets, bracket{ch: c, line: lx.line})
			lx.lastSig = c
			lx.pos++

		case c == ')' || c == ']' || c == '}':
			if len(lx.brackets) == 0 {
				return lx.errorf(lx.line, "unmatched '%c'", c)
			}
			open := lx.brackets[len(lx.brackets)-1]
			if closerFor[open.ch] != c {
				if open.line != lx.line {
					return lx.errorf(lx.line, "closing parenthesis '%c' does not match opening parenthesis '%c' on line %d", c, open.ch, open.line)
				}
				return lx.errorf(lx.line, "closing parenthesis '%c' does not match opening parenthesis '%c'", c, open.ch)
			}
			lx.brackets = lx.brackets[:len(lx.brackets)-1]
			lx.lastSig = c
			lx.pos++

		case c == '`' || c == '$' || c == '?':
			return lx.errorf(lx.line, "invalid syntax: unexpected character '%c'", c)

		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
			lx.pos++

		default:
			lx.lastSig = c
			lx.pos++
		}
	}

	if n := len(lx.brackets); n > 0 {
		open := lx.brackets[n-1]
		return lx.errorf(open.line, "'%c' was never closed", open.ch)
	}
	if lx.lastSig == ':' {
		lx.header = lx.line
	}
	if lx.header > 0 {
		return lx.errorf(lx.header+1, "expected an indented block after line %d", lx.header)
	}
	return nil
}

// indentation measures the leading whitespace of a physical line that
// starts a logical line and updates the indent stack. Blank and
// comment-only lines do not count.
func (lx *lexer) indentation() *SyntaxError {
	src := lx.src
	col := 0
	i := lx.pos
loop:
	for ; i < len(src); i++ {
		switch src[i] {
		case ' ':
			col++
		case '\t':
			col = (col/8 + 1) * 8
		case '\f':
			col = 0
		default:
			break loop
		}
	}
	lx.pos = i
	if i == len(src) || src[i] == '\n' || src[i] == '\r' || src[i] == '#' {
		return nil
	}

	top := lx.indents[len(lx.indents)-1]
	switch {
	case lx.header > 0:
		if col <= top {
			return lx.errorf(lx.line, "expected an indented block after line %d", lx.header)
		}
		lx.indents = append(lx.indents, col)
		lx.header = 0
	case col > top:
		return lx.errorf(lx.line, "unexpected indent")
	case col < top:
		for len(lx.indents) > 1 && lx.indents[len(lx.indents)-1] > col {
			lx.indents = lx.indents[:len(lx.indents)-1]
		}
		if lx.indents[len(lx.indents)-1] != col {
			return lx.errorf(lx.line, "unindent does not match any outer indentation level")
		}
	}
	return nil
}

// stringLiteral consumes a literal whose prefix starts at start and whose
// opening quote is at quote, and blanks it out in the mask.
func (lx *lexer) stringLiteral(start, quote int) *SyntaxError {
	src := lx.src
	q := src[quote]
	triple := quote+2 < len(src) && src[quote+1] == q && src[quote+2] == q
	startLine := lx.line

	i := quote + 1
	if triple {
		i = quote + 3
	}
	for {
		if i >= len(src) {
			if triple {
				return lx.errorf(startLine, "unterminated triple-quoted string literal")
			}
			return lx.errorf(startLine, "unterminated string literal")
		}
		ch := src[i]
		if ch == '\\' {
			if i+1 < len(src) && src[i+1] == '\n' {
				lx.line++
			}
			i += 2
			continue
		}
		if ch == '\n' {
			if !triple {
				return lx.errorf(startLine, "unterminated string literal")
			}
			lx.line++
			i++
			continue
		}
		if ch == q {
			if !triple {
				i++
				break
			}
			if i+2 < len(src) && src[i+1] == q && src[i+2] == q {
				i += 3
				break
			}
		}
		i++
	}
	if i > len(src) {
		i = len(src)
	}

	for k := start; k < i; k++ {
		if lx.masked[k] != '\n' {
			lx.masked[k] = ' '
		}
	}
	lx.pos = i
	lx.lastSig = 'a'
	return nil
}

func isStringPrefix(s string) bool {
	switch strings.ToLower(s) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf":
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isIdentByte accepts ASCII identifier characters and any non-ASCII byte,
// so UTF-8 identifiers pass through as words.
func isIdentByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
