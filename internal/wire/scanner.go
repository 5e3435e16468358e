package wire

import (
	"strconv"
	"strings"

	"github.com/varlink/govarlink/internal/varlinkerr"
)

// Scanner is a cursor-based lexer over a varlink IDL or JSON source
// string. It exposes the same small set of primitives as the original
// driver's scanner: peek at the next significant character, and read a
// keyword, word, number, string, or operator starting at the cursor.
type Scanner struct {
	s       string
	pos     int
	comment bool
}

// NewScanner returns a Scanner positioned at the start of s. When
// acceptComment is true, '#' introduces a line comment that is skipped
// like whitespace; this is used for IDL source but not for JSON values.
func NewScanner(s string, acceptComment bool) *Scanner {
	return &Scanner{s: s, comment: acceptComment}
}

// advance skips whitespace (and comments, if enabled) and returns the
// scanner's position at the next significant character.
func (sc *Scanner) advance() int {
	for sc.pos < len(sc.s) {
		switch sc.s[sc.pos] {
		case ' ', '\t', '\n':
			sc.pos++
		case '#':
			if sc.comment {
				if nl := strings.IndexByte(sc.s[sc.pos:], '\n'); nl >= 0 {
					sc.pos += nl
				} else {
					sc.pos = len(sc.s)
				}
				continue
			}
			return sc.pos
		default:
			return sc.pos
		}
	}
	return sc.pos
}

// Peek advances past insignificant input and returns the next
// significant byte, or 0 at end of input.
func (sc *Scanner) Peek() byte {
	p := sc.advance()
	if p >= len(sc.s) {
		return 0
	}
	return sc.s[p]
}

func isWordStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordCont(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9') || c == '_' || c == '.'
}

// wordLen returns the length of the maximal-munch word starting at the
// scanner's current (advanced) position, or 0 if it doesn't start with
// a letter.
func (sc *Scanner) wordLen() int {
	p := sc.advance()
	if p >= len(sc.s) || !isWordStart(sc.s[p]) {
		return 0
	}
	i := p + 1
	for i < len(sc.s) && isWordCont(sc.s[i]) {
		i++
	}
	return i - p
}

// ReadKeyword consumes exactly keyword if it appears as the next word,
// returning an error otherwise.
func (sc *Scanner) ReadKeyword(keyword string) error {
	p := sc.advance()
	n := sc.wordLen()
	if n != len(keyword) || sc.s[p:p+n] != keyword {
		return varlinkerr.Newf("expected keyword %q", keyword)
	}
	sc.pos = p + n
	return nil
}

// ReadWord consumes and returns the next word (an identifier-shaped
// token), without validating its contents beyond the lexical shape.
func (sc *Scanner) ReadWord() (string, error) {
	p := sc.advance()
	n := sc.wordLen()
	if n == 0 {
		return "", varlinkerr.New("expected word")
	}
	sc.pos = p + n
	return sc.s[p : p+n], nil
}

// ReadNumber consumes a decimal integer, matching simple_strtol's
// base-10 behavior: an optional sign followed by one or more digits.
func (sc *Scanner) ReadNumber() (int64, error) {
	p := sc.advance()
	i := p
	if i < len(sc.s) && (sc.s[i] == '+' || sc.s[i] == '-') {
		i++
	}
	start := i
	for i < len(sc.s) && sc.s[i] >= '0' && sc.s[i] <= '9' {
		i++
	}
	if i == start {
		return 0, varlinkerr.New("expected number")
	}
	n, err := strconv.ParseInt(sc.s[p:i], 10, 64)
	if err != nil {
		return 0, varlinkerr.Wrap(err, "malformed number")
	}
	sc.pos = i
	return n, nil
}

func unhex(d byte) (byte, bool) {
	switch {
	case d >= '0' && d <= '9':
		return d - '0', true
	case d >= 'a' && d <= 'f':
		return d - 'a' + 0x0a, true
	case d >= 'A' && d <= 'F':
		return d - 'A' + 0x0a, true
	default:
		return 0, false
	}
}

// readUnicodeChar decodes a single \uXXXX escape and appends its bytes
// to out. It intentionally reproduces the original driver's behavior of
// treating each \uXXXX escape as an independent UTF-16 code unit: a
// surrogate pair (e.g. the two escapes produced for a character outside
// the Basic Multilingual Plane) is never combined into one codepoint,
// so each half is re-encoded on its own as an (invalid, lone-surrogate)
// three-byte sequence instead of a single four-byte UTF-8 sequence.
func readUnicodeChar(hex string, out *strings.Builder) error {
	if len(hex) < 4 {
		return varlinkerr.New("truncated unicode escape")
	}
	var digits [4]byte
	for i := 0; i < 4; i++ {
		d, ok := unhex(hex[i])
		if !ok {
			return varlinkerr.New("invalid unicode escape digit")
		}
		digits[i] = d
	}
	cp := uint16(digits[0])<<12 | uint16(digits[1])<<8 | uint16(digits[2])<<4 | uint16(digits[3])

	switch {
	case cp <= 0x007f:
		out.WriteByte(byte(cp))
	case cp <= 0x07ff:
		out.WriteByte(0xc0 | byte(cp>>6))
		out.WriteByte(0x80 | byte(cp&0x3f))
	default:
		out.WriteByte(0xe0 | byte(cp>>12))
		out.WriteByte(0x80 | byte((cp>>6)&0x3f))
		out.WriteByte(0x80 | byte(cp&0x3f))
	}
	return nil
}

// ReadString consumes a double-quoted JSON string literal, processing
// escapes, and returns its decoded contents.
func (sc *Scanner) ReadString() (string, error) {
	p := sc.advance()
	if p >= len(sc.s) || sc.s[p] != '"' {
		return "", varlinkerr.New("expected string")
	}
	p++

	var out strings.Builder
	for {
		if p >= len(sc.s) {
			return "", varlinkerr.New("unterminated string")
		}
		c := sc.s[p]
		if c == '"' {
			p++
			break
		}
		if c == '\\' {
			p++
			if p >= len(sc.s) {
				return "", varlinkerr.New("unterminated escape")
			}
			switch sc.s[p] {
			case '"':
				out.WriteByte('"')
			case '\\':
				out.WriteByte('\\')
			case '/':
				out.WriteByte('/')
			case 'b':
				out.WriteByte('\b')
			case 'f':
				out.WriteByte('\f')
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case 'u':
				if p+4 >= len(sc.s) {
					return "", varlinkerr.New("truncated unicode escape")
				}
				if err := readUnicodeChar(sc.s[p+1:p+5], &out); err != nil {
					return "", err
				}
				p += 4
			default:
				return "", varlinkerr.New("invalid escape sequence")
			}
			p++
			continue
		}
		out.WriteByte(c)
		p++
	}

	sc.pos = p
	return out.String(), nil
}

// ReadOperator consumes op exactly if it occurs at the cursor.
func (sc *Scanner) ReadOperator(op string) error {
	p := sc.advance()
	if p+len(op) > len(sc.s) || sc.s[p:p+len(op)] != op {
		return varlinkerr.Newf("expected operator %q", op)
	}
	sc.pos = p + len(op)
	return nil
}

// ReadOperatorSkip advances the cursor to just past the next occurrence
// of op anywhere ahead, skipping over everything in between. This is
// used to skip an IDL type body whose grammar isn't otherwise parsed.
func (sc *Scanner) ReadOperatorSkip(op string) error {
	p := sc.advance()
	idx := strings.Index(sc.s[p:], op)
	if idx < 0 {
		return varlinkerr.Newf("operator %q not found", op)
	}
	sc.pos = p + idx + len(op)
	return nil
}

// Pos returns the current cursor offset, mainly for error reporting.
func (sc *Scanner) Pos() int {
	return sc.pos
}

// AtEnd reports whether the scanner has no more significant input.
func (sc *Scanner) AtEnd() bool {
	return sc.advance() >= len(sc.s)
}
