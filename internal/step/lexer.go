// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package step

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokKeyword
	tokInstance
	tokInteger
	tokReal
	tokString
	tokEnum
	tokBinary
	tokLParen
	tokRParen
	tokComma
	tokSemicolon
	tokEquals
	tokDollar
	tokStar
)

var tokenNames = map[tokenKind]string{
	tokEOF:       "end of file",
	tokKeyword:   "keyword",
	tokInstance:  "instance name",
	tokInteger:   "integer",
	tokReal:      "real",
	tokString:    "string",
	tokEnum:      "enumeration",
	tokBinary:    "binary",
	tokLParen:    "'('",
	tokRParen:    "')'",
	tokComma:     "','",
	tokSemicolon: "';'",
	tokEquals:    "'='",
	tokDollar:    "'$'",
	tokStar:      "'*'",
}

var punctuation = map[byte]tokenKind{
	'(': tokLParen, ')': tokRParen, ',': tokComma, ';': tokSemicolon,
	'=': tokEquals, '$': tokDollar, '*': tokStar,
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// SyntaxError reports malformed exchange structure text.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Col, e.Msg)
}

// lexer splits Part 21 text into tokens. Comments are dropped.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) errorf(line, col int, format string, args ...any) error {
	return &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peekByte(1) == '*':
			line, col := l.line, l.col
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.src) {
					return l.errorf(line, col, "unterminated comment")
				}
				if l.src[l.pos] == '*' && l.peekByte(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isKeywordByte(c byte) bool {
	return isUpper(c) || isLower(c) || isDigit(c) || c == '_' || c == '-'
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	line, col := l.line, l.col
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: line, col: col}, nil
	}

	c := l.src[l.pos]
	if k, ok := punctuation[c]; ok {
		l.advance()
		return token{kind: k, text: string(c), line: line, col: col}, nil
	}

	switch {
	case c == '#':
		l.advance()
		start := l.pos
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.advance()
		}
		if l.pos == start {
			return token{}, l.errorf(line, col, "instance name without digits")
		}
		return token{kind: tokInstance, text: l.src[start:l.pos], line: line, col: col}, nil

	case isUpper(c) || isLower(c) || c == '!' || c == '_':
		start := l.pos
		l.advance()
		for l.pos < len(l.src) && isKeywordByte(l.src[l.pos]) {
			l.advance()
		}
		return token{kind: tokKeyword, text: strings.ToUpper(l.src[start:l.pos]), line: line, col: col}, nil

	case isDigit(c) || c == '+' || c == '-':
		return l.number(line, col)

	case c == '.':
		l.advance()
		start := l.pos
		for l.pos < len(l.src) && isKeywordByte(l.src[l.pos]) {
			l.advance()
		}
		if l.pos == start || l.peekByte(0) != '.' {
			return token{}, l.errorf(line, col, "malformed enumeration")
		}
		text := strings.ToUpper(l.src[start:l.pos])
		l.advance()
		return token{kind: tokEnum, text: text, line: line, col: col}, nil

	case c == '\'':
		s, err := l.str(line, col)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, line: line, col: col}, nil

	case c == '"':
		l.advance()
		start := l.pos
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			l.advance()
		}
		if l.pos >= len(l.src) {
			return token{}, l.errorf(line, col, "unterminated binary literal")
		}
		text := l.src[start:l.pos]
		l.advance()
		return token{kind: tokBinary, text: text, line: line, col: col}, nil
	}

	return token{}, l.errorf(line, col, "unexpected character %q", c)
}

func (l *lexer) number(line, col int) (token, error) {
	start := l.pos
	if c := l.src[l.pos]; c == '+' || c == '-' {
		l.advance()
	}
	digits := 0
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.advance()
		digits++
	}
	if digits == 0 {
		return token{}, l.errorf(line, col, "sign without digits")
	}
	kind := tokInteger
	if l.peekByte(0) == '.' {
		kind = tokReal
		l.advance()
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.advance()
		}
		if c := l.peekByte(0); c == 'E' || c == 'e' {
			l.advance()
			if c := l.peekByte(0); c == '+' || c == '-' {
				l.advance()
			}
			exp := 0
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.advance()
				exp++
			}
			if exp == 0 {
				return token{}, l.errorf(line, col, "malformed exponent")
			}
		}
	}
	return token{kind: kind, text: l.src[start:l.pos], line: line, col: col}, nil
}

// str reads a quoted string, decoding ” and the control directives
// \\, \S\, \X\hh, \X2\...\X0\ and \X4\...\X0\.
func (l *lexer) str(line, col int) (string, error) {
	l.advance()
	var raw strings.Builder
	for {
		if l.pos >= len(l.src) {
			return "", l.errorf(line, col, "unterminated string")
		}
		c := l.advance()
		if c == '\'' {
			if l.peekByte(0) == '\'' {
				l.advance()
				raw.WriteByte('\'')
				continue
			}
			break
		}
		raw.WriteByte(c)
	}
	s, err := decodeString(raw.String())
	if err != nil {
		return "", l.errorf(line, col, "%v", err)
	}
	return s, nil
}

func decodeString(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			i++
			continue
		}
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, `\\`):
			b.WriteByte('\\')
			i += 2
		case strings.HasPrefix(rest, `\S\`) && len(rest) >= 4:
			b.WriteRune(rune(rest[3]) + 128)
			i += 4
		case strings.HasPrefix(rest, `\P`) && len(rest) >= 4 && rest[3] == '\\':
			i += 4
		case strings.HasPrefix(rest, `\X2\`), strings.HasPrefix(rest, `\X4\`):
			width := 4
			if rest[2] == '4' {
				width = 8
			}
			end := strings.Index(rest[4:], `\X0\`)
			if end < 0 {
				return "", fmt.Errorf("unterminated %s directive", rest[:4])
			}
			hex := rest[4 : 4+end]
			if len(hex)%width != 0 {
				return "", fmt.Errorf("malformed %s directive", rest[:4])
			}
			var units []uint16
			for j := 0; j < len(hex); j += width {
				v, err := strconv.ParseUint(hex[j:j+width], 16, 32)
				if err != nil {
					return "", fmt.Errorf("malformed %s directive: %w", rest[:4], err)
				}
				if width == 8 {
					b.WriteRune(rune(v))
				} else {
					units = append(units, uint16(v))
				}
			}
			if len(units) > 0 {
				b.WriteString(string(utf16.Decode(units)))
			}
			i += 4 + end + 4
		case strings.HasPrefix(rest, `\X\`) && len(rest) >= 5:
			v, err := strconv.ParseUint(rest[3:5], 16, 8)
			if err != nil {
				return "", fmt.Errorf("malformed \\X\\ directive: %w", err)
			}
			b.WriteRune(rune(v))
			i += 5
		default:
			b.WriteByte('\\')
			i++
		}
	}
	return b.String(), nil
}
