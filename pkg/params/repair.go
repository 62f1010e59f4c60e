package params

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Stage names the pipeline step that produced a parseable payload.
type Stage string

const (
	StageStructured Stage = "structured"
	StageStrict     Stage = "strict"
	StageKeys       Stage = "keys"
	StageQuotes     Stage = "quotes"
	StageTokens     Stage = "tokens"
)

type repairMode int

const (
	// repairKeys quotes bare object keys.
	repairKeys repairMode = iota + 1
	// repairQuotes also rewrites single-quoted strings.
	repairQuotes
	// repairTokens also quotes bare values, drops trailing commas, maps
	// True/False/None literals and closes unterminated containers.
	repairTokens
)

var repairStages = []struct {
	mode  repairMode
	stage Stage
}{
	{repairKeys, StageKeys},
	{repairQuotes, StageQuotes},
	{repairTokens, StageTokens},
}

var numberPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

const tokenDelimiters = ",}]"

// Repair turns quasi-JSON text into JSON. Valid JSON is returned unchanged;
// otherwise the repair stages run in order and the first output that parses
// is returned in compact form. The result is deterministic, so repairing the
// output again is a no-op.
func Repair(text string) (string, error) {
	out, _, err := repairText(text)
	return out, err
}

func repairText(text string) (string, Stage, error) {
	if json.Valid([]byte(text)) {
		return text, StageStrict, nil
	}

	trimmed := stripFences(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, StageStrict, nil
	}

	var lastErr error
	for _, st := range repairStages {
		out, err := rewrite(trimmed, st.mode)
		if err != nil {
			lastErr = err
			continue
		}
		if json.Valid([]byte(out)) {
			return out, st.stage, nil
		}
	}

	if lastErr == nil {
		lastErr = &ProcessingError{Reason: "payload is not repairable"}
	}
	return "", "", lastErr
}

// stripFences removes surrounding whitespace and a Markdown code fence.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func rewrite(text string, mode repairMode) (string, error) {
	sc := &scanner{src: text, mode: mode}
	sc.out.Grow(len(text) + 16)

	sc.skipSpace()
	if err := sc.value(); err != nil {
		return "", err
	}
	sc.skipSpace()
	if !sc.eof() {
		return "", sc.fail("unexpected trailing content")
	}
	return sc.out.String(), nil
}

type scanner struct {
	src  string
	pos  int
	mode repairMode
	out  strings.Builder
	path []string
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) peek() byte {
	return s.src[s.pos]
}

func (s *scanner) skipSpace() {
	for !s.eof() {
		switch s.peek() {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) fail(reason string) error {
	token := ""
	if !s.eof() {
		end := s.pos + 24
		if end > len(s.src) {
			end = len(s.src)
		}
		token = s.src[s.pos:end]
	}
	return &ProcessingError{
		Field:  strings.Join(s.path, "."),
		Token:  token,
		Reason: reason,
	}
}

func (s *scanner) value() error {
	s.skipSpace()
	if s.eof() {
		return s.fail("unexpected end of input")
	}

	switch c := s.peek(); {
	case c == '{':
		return s.object()
	case c == '[':
		return s.array()
	case c == '"':
		return s.doubleQuoted()
	case c == '\'' && s.mode >= repairQuotes:
		return s.singleQuoted()
	default:
		return s.bare()
	}
}

func (s *scanner) object() error {
	s.pos++
	s.out.WriteByte('{')

	first := true
	for {
		s.skipSpace()
		if s.eof() {
			if s.mode >= repairTokens {
				s.out.WriteByte('}')
				return nil
			}
			return s.fail("unterminated object")
		}

		if s.peek() == '}' {
			s.pos++
			s.out.WriteByte('}')
			return nil
		}

		if !first {
			if s.peek() != ',' {
				return s.fail("expected ',' or '}'")
			}
			s.pos++
			s.skipSpace()
			if s.mode >= repairTokens && (s.eof() || s.peek() == '}') {
				continue
			}
			s.out.WriteByte(',')
		}

		key, err := s.key()
		if err != nil {
			return err
		}

		s.skipSpace()
		if s.eof() || s.peek() != ':' {
			return s.fail("expected ':' after key")
		}
		s.pos++
		s.out.WriteByte(':')

		s.path = append(s.path, key)
		if err := s.value(); err != nil {
			return err
		}
		s.path = s.path[:len(s.path)-1]
		first = false
	}
}

func (s *scanner) array() error {
	s.pos++
	s.out.WriteByte('[')

	first := true
	for index := 0; ; index++ {
		s.skipSpace()
		if s.eof() {
			if s.mode >= repairTokens {
				s.out.WriteByte(']')
				return nil
			}
			return s.fail("unterminated array")
		}

		if s.peek() == ']' {
			s.pos++
			s.out.WriteByte(']')
			return nil
		}

		if !first {
			if s.peek() != ',' {
				return s.fail("expected ',' or ']'")
			}
			s.pos++
			s.skipSpace()
			if s.mode >= repairTokens && (s.eof() || s.peek() == ']') {
				continue
			}
			s.out.WriteByte(',')
		}

		s.path = append(s.path, strconv.Itoa(index))
		if err := s.value(); err != nil {
			return err
		}
		s.path = s.path[:len(s.path)-1]
		first = false
	}
}

// key writes a quoted key and returns its text.
func (s *scanner) key() (string, error) {
	switch c := s.peek(); {
	case c == '"':
		start := s.out.Len()
		if err := s.doubleQuoted(); err != nil {
			return "", err
		}
		return keyText(s.out.String()[start:]), nil
	case c == '\'':
		if s.mode < repairQuotes {
			return "", s.fail("single-quoted key")
		}
		start := s.out.Len()
		if err := s.singleQuoted(); err != nil {
			return "", err
		}
		return keyText(s.out.String()[start:]), nil
	}

	start := s.pos
	for !s.eof() {
		switch s.peek() {
		case ':':
			key := strings.TrimSpace(s.src[start:s.pos])
			if key == "" {
				s.pos = start
				return "", s.fail("empty key")
			}
			s.writeString(key)
			return key, nil
		case ',', '{', '}', '[', ']', '"', '\'':
			s.pos = start
			return "", s.fail("expected key")
		}
		s.pos++
	}
	s.pos = start
	return "", s.fail("expected key")
}

func keyText(quoted string) string {
	var k string
	if err := json.Unmarshal([]byte(quoted), &k); err != nil {
		return strings.Trim(quoted, `"`)
	}
	return k
}

// doubleQuoted copies a JSON string literal. In token mode raw control
// characters are escaped and an unterminated literal is closed.
func (s *scanner) doubleQuoted() error {
	s.pos++
	s.out.WriteByte('"')

	for !s.eof() {
		c := s.peek()
		switch {
		case c == '\\':
			if s.pos+1 >= len(s.src) {
				return s.fail("dangling escape")
			}
			next := s.src[s.pos+1]
			if next == '\'' && s.mode >= repairQuotes {
				s.out.WriteByte('\'')
			} else {
				s.out.WriteByte('\\')
				s.out.WriteByte(next)
			}
			s.pos += 2
		case c == '"':
			s.pos++
			s.out.WriteByte('"')
			return nil
		case c < 0x20 && s.mode >= repairTokens:
			s.out.WriteString(escapeControl(c))
			s.pos++
		default:
			s.out.WriteByte(c)
			s.pos++
		}
	}

	if s.mode >= repairTokens {
		s.out.WriteByte('"')
		return nil
	}
	return s.fail("unterminated string")
}

// singleQuoted rewrites a single-quoted literal. The closing quote is the
// first unescaped quote followed by a delimiter, so apostrophes inside the
// text survive.
func (s *scanner) singleQuoted() error {
	start := s.pos
	s.pos++

	var content strings.Builder
	for !s.eof() {
		c := s.peek()
		switch {
		case c == '\\' && s.pos+1 < len(s.src):
			next := s.src[s.pos+1]
			if next == '\'' {
				content.WriteByte('\'')
			} else {
				content.WriteByte('\\')
				content.WriteByte(next)
			}
			s.pos += 2
			continue
		case c == '\'' && s.closesAt(s.pos+1):
			s.pos++
			s.out.WriteByte('"')
			s.out.WriteString(escapeQuoted(content.String()))
			s.out.WriteByte('"')
			return nil
		}
		content.WriteByte(c)
		s.pos++
	}

	s.pos = start
	return s.fail("unterminated single-quoted string")
}

func (s *scanner) closesAt(i int) bool {
	for ; i < len(s.src); i++ {
		switch s.src[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ',', ':', '}', ']':
			return true
		default:
			return false
		}
	}
	return true
}

// bare consumes an unquoted token up to the next structural delimiter.
func (s *scanner) bare() error {
	start := s.pos
	for !s.eof() && strings.IndexByte(tokenDelimiters, s.peek()) < 0 {
		s.pos++
	}

	token := strings.TrimSpace(s.src[start:s.pos])
	if token == "" {
		s.pos = start
		return s.fail("missing value")
	}

	if s.mode < repairTokens {
		s.out.WriteString(token)
		return nil
	}

	switch {
	case isLiteral(token):
		s.out.WriteString(token)
	case token == "True":
		s.out.WriteString("true")
	case token == "False":
		s.out.WriteString("false")
	case token == "None":
		s.out.WriteString("null")
	default:
		s.writeString(token)
	}
	return nil
}

func (s *scanner) writeString(v string) {
	s.out.WriteByte('"')
	s.out.WriteString(escapeQuoted(v))
	s.out.WriteByte('"')
}

func isLiteral(token string) bool {
	switch token {
	case "true", "false", "null":
		return true
	}
	return numberPattern.MatchString(token)
}

// escapeQuoted returns v escaped for use between JSON double quotes. Existing
// backslash escapes are kept; embedded double quotes and control characters
// are escaped.
func escapeQuoted(v string) string {
	var b bytes.Buffer
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '\\' && validEscape(v, i):
			b.WriteByte(c)
			b.WriteByte(v[i+1])
			i++
		case c == '\\':
			b.WriteString(`\\`)
		case c == '"':
			b.WriteString(`\"`)
		case c < 0x20:
			b.WriteString(escapeControl(c))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// validEscape reports whether v[i] starts a JSON escape sequence.
func validEscape(v string, i int) bool {
	if i+1 >= len(v) {
		return false
	}
	next := v[i+1]
	if next != 'u' {
		return strings.IndexByte(`"\/bfnrt`, next) >= 0
	}
	if i+6 > len(v) {
		return false
	}
	for _, h := range v[i+2 : i+6] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", h) {
			return false
		}
	}
	return true
}

func escapeControl(c byte) string {
	switch c {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	default:
		return `\u00` + strconv.FormatUint(uint64(c)>>4, 16) + strconv.FormatUint(uint64(c)&0xf, 16)
	}
}
