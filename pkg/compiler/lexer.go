package compiler

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF       TokenType = iota
	TokenNewline             // end of line
	TokenIdent               // mnemonics and segment names
	TokenInt                 // plain integers: shift counts, call targets, .byte values
	TokenImm                 // immediates: #N, i32N, i64N, i128N
	TokenReg                 // r<n>, w<n>, d<n>, q<n>
	TokenComma               // ,
	TokenDirective           // .segment, .byte
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenInt:
		return "INT"
	case TokenImm:
		return "IMM"
	case TokenReg:
		return "REG"
	case TokenComma:
		return "COMMA"
	case TokenDirective:
		return "DIRECTIVE"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer tokenizes regvm assembly source code.
type Lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		pos:    0,
		line:   1,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
// Characters that cannot start a token are returned as one-character
// TokenIdent values so the parser can report them with a line number.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.emit(TokenNewline, "\n")
			l.line++
			l.pos++

		case ch == ';':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.emit(TokenComma, ",")
			l.pos++

		case ch == '#':
			l.pos++
			l.emit(TokenImm, "#"+l.scanWord())

		case ch == '.':
			l.pos++
			l.emit(TokenDirective, "."+l.scanWord())

		case ch == '-' || ch == '+' || unicode.IsDigit(rune(ch)):
			l.emit(TokenInt, l.scanWord())

		case unicode.IsLetter(rune(ch)) || ch == '_':
			word := l.scanWord()
			l.emit(classifyWord(word), word)

		default:
			l.emit(TokenIdent, string(ch))
			l.pos++
		}
	}

	l.emit(TokenEOF, "")
	return l.tokens
}

func (l *Lexer) emit(t TokenType, value string) {
	l.tokens = append(l.tokens, Token{Type: t, Value: value, Line: l.line})
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

// scanWord consumes letters, digits, underscores and signs.
func (l *Lexer) scanWord() string {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_' || ch == '-' || ch == '+' {
			l.pos++
		} else {
			break
		}
	}
	return l.input[start:l.pos]
}

func classifyWord(value string) TokenType {
	lower := strings.ToLower(value)

	for _, prefix := range []string{"i128", "i32", "i64"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok && allDigits(strings.TrimPrefix(rest, "-")) {
			return TokenImm
		}
	}

	switch lower[0] {
	case 'r', 'w', 'd', 'q':
		if len(lower) > 1 && allDigits(lower[1:]) {
			return TokenReg
		}
	}

	return TokenIdent
}

func allDigits(s string) bool {
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return s != ""
}
