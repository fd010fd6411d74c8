package forth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is one lexical unit of a source line.
type Token struct {
	Text          string
	StringLiteral bool
}

const (
	stringIntroducer = `." `
	parenComment     = `( `
	lineComment      = `\`
)

// Tokenizer yields the tokens of a single line. Its only state is the cursor,
// so restarting means creating a new Tokenizer over the same text.
type Tokenizer struct {
	input string
	pos   int
}

func NewTokenizer(line string) *Tokenizer {
	return &Tokenizer{input: line}
}

// Next returns the next token, or false at the end of the line.
func (t *Tokenizer) Next() (Token, bool) {
	for {
		t.skipSpace()
		if t.pos >= len(t.input) {
			return Token{}, false
		}
		rest := t.input[t.pos:]
		switch {
		case strings.HasPrefix(rest, stringIntroducer):
			t.pos += len(stringIntroducer)
			return Token{Text: t.until('"'), StringLiteral: true}, true
		case strings.HasPrefix(rest, parenComment) || rest == "(":
			t.pos++
			t.until(')')
		case isLineComment(rest):
			t.pos = len(t.input)
			return Token{}, false
		default:
			return Token{Text: t.word()}, true
		}
	}
}

func isLineComment(s string) bool {
	if !strings.HasPrefix(s, lineComment) {
		return false
	}
	if len(s) == len(lineComment) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[len(lineComment):])
	return unicode.IsSpace(r)
}

func (t *Tokenizer) skipSpace() {
	for t.pos < len(t.input) {
		r, size := utf8.DecodeRuneInString(t.input[t.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		t.pos += size
	}
}

// until consumes up to and including delim, returning the text before it.
// An unterminated run extends to the end of the line.
func (t *Tokenizer) until(delim byte) string {
	start := t.pos
	if i := strings.IndexByte(t.input[start:], delim); i >= 0 {
		t.pos = start + i + 1
		return t.input[start : start+i]
	}
	t.pos = len(t.input)
	return t.input[start:]
}

func (t *Tokenizer) word() string {
	start := t.pos
	for t.pos < len(t.input) {
		r, size := utf8.DecodeRuneInString(t.input[t.pos:])
		if unicode.IsSpace(r) {
			break
		}
		t.pos += size
	}
	return t.input[start:t.pos]
}
