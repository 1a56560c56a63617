package compiler

import (
	"fmt"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"char":     CHAR,
	"int":      INT,
	"long":     LONG,
	"float":    FLOAT,
	"double":   DOUBLE,
	"void":     VOID,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"for":      FOR,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,
	"sizeof":   SIZEOF,
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src       []rune
	pos       int // index of the next rune to consume
	line      int // current 1-based source line
	lineStart int // index of the first rune on the current line
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.lineStart = l.pos
	}
	return r
}

func (l *Lexer) col() int { return l.pos - l.lineStart + 1 }

func (l *Lexer) token(tt TokenType, lexeme string, line, col int) Token {
	return Token{Type: tt, Lexeme: lexeme, Line: line, Col: col}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLineComment discards everything from the current position to end-of-line.
// The opening "//" must already have been consumed.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
// The opening "/*" must already have been consumed.
func (l *Lexer) skipBlockComment() error {
	startLine := l.line
	for l.pos < len(l.src) {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance() // *
			l.advance() // /
			return nil
		}
		l.advance()
	}
	return fmt.Errorf("unterminated block comment (opened on line %d)", startLine)
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent() Token {
	line, col := l.line, l.col()
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return l.token(tt, lexeme, line, col)
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// scanNumber collects an integer or floating literal. Integers may be hex and
// carry an l/L suffix; floating literals may carry an exponent and an f/F suffix.
// The suffix stays in the lexeme for the parser to interpret.
func (l *Lexer) scanNumber() (Token, error) {
	line, col := l.line, l.col()
	start := l.pos

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		l.advance() // 0
		l.advance() // x
		if !isHexDigit(l.peek()) {
			return Token{}, fmt.Errorf("line %d: malformed hex literal", line)
		}
		for isHexDigit(l.peek()) {
			l.advance()
		}
		if l.peek() == 'l' || l.peek() == 'L' {
			l.advance()
		}
		return l.token(INTEGER, string(l.src[start:l.pos]), line, col), nil
	}

	tt := INTEGER
	for unicode.IsDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' {
		tt = FLOATING
		l.advance() // .
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		next := l.peek2()
		if unicode.IsDigit(next) || next == '+' || next == '-' {
			tt = FLOATING
			l.advance() // e
			if l.peek() == '+' || l.peek() == '-' {
				l.advance()
			}
			if !unicode.IsDigit(l.peek()) {
				return Token{}, fmt.Errorf("line %d: malformed exponent", line)
			}
			for unicode.IsDigit(l.peek()) {
				l.advance()
			}
		}
	}

	switch l.peek() {
	case 'f', 'F':
		tt = FLOATING
		l.advance()
	case 'l', 'L':
		if tt == INTEGER {
			l.advance()
		}
	}
	return l.token(tt, string(l.src[start:l.pos]), line, col), nil
}

// scanEscape decodes the character after a backslash, which must already
// have been consumed.
func (l *Lexer) scanEscape(line int) (rune, error) {
	next := l.advance()
	switch next {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case '0':
		return 0, nil
	case 'a':
		return '\a', nil
	case 'b':
		return '\b', nil
	case '\\', '\'', '"':
		return next, nil
	}
	return 0, fmt.Errorf("unknown escape sequence \\%c on line %d", next, line)
}

// scanChar collects a character literal 'c'.
func (l *Lexer) scanChar() (Token, error) {
	line, col := l.line, l.col()
	l.advance() // consume opening '

	r := l.peek()
	if r == '\'' {
		return Token{}, fmt.Errorf("empty character literal on line %d", line)
	}

	var val rune
	if r == '\\' {
		l.advance()
		esc, err := l.scanEscape(line)
		if err != nil {
			return Token{}, err
		}
		val = esc
	} else {
		val = l.advance()
	}

	if l.peek() != '\'' {
		return Token{}, fmt.Errorf("unterminated character literal on line %d", line)
	}
	l.advance() // consume closing '

	return l.token(CHARACTER, string(val), line, col), nil
}

// scanString collects a string literal "..."
func (l *Lexer) scanString() (Token, error) {
	line, col := l.line, l.col()
	l.advance() // consume opening "
	var val []rune

	for l.pos < len(l.src) {
		r := l.peek()
		if r == '"' {
			break
		}
		if r == '\n' {
			return Token{}, fmt.Errorf("unterminated string literal on line %d", line)
		}
		if r == '\\' {
			l.advance()
			esc, err := l.scanEscape(line)
			if err != nil {
				return Token{}, err
			}
			val = append(val, esc)
			continue
		}
		val = append(val, r)
		l.advance()
	}

	if l.pos >= len(l.src) {
		return Token{}, fmt.Errorf("unterminated string literal on line %d", line)
	}
	l.advance() // consume closing "

	return l.token(STRING, string(val), line, col), nil
}

// nextToken skips whitespace/comments and returns the next Token.
func (l *Lexer) nextToken() (Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return l.token(EOF, "", l.line, l.col()), nil
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		if l.peek() == '/' && l.peek2() == '*' {
			l.advance()
			l.advance()
			if err := l.skipBlockComment(); err != nil {
				return Token{}, err
			}
			continue
		}
		break
	}

	ch := l.peek()
	line, col := l.line, l.col()

	if unicode.IsLetter(ch) || ch == '_' {
		return l.scanIdent(), nil
	}
	if unicode.IsDigit(ch) || ch == '.' && unicode.IsDigit(l.peek2()) {
		return l.scanNumber()
	}
	if ch == '"' {
		return l.scanString()
	}
	if ch == '\'' {
		return l.scanChar()
	}

	// two returns the two-character token when the next rune is second,
	// otherwise the single-character one.
	two := func(second rune, double TokenType, single TokenType) Token {
		if l.peek() == second {
			l.advance()
			return l.token(double, string([]rune{ch, second}), line, col)
		}
		return l.token(single, string(ch), line, col)
	}

	l.advance() // consume the character before the switch
	switch ch {
	case '{':
		return l.token(LBRACE, "{", line, col), nil
	case '}':
		return l.token(RBRACE, "}", line, col), nil
	case '(':
		return l.token(LPAREN, "(", line, col), nil
	case ')':
		return l.token(RPAREN, ")", line, col), nil
	case '[':
		return l.token(LBRACKET, "[", line, col), nil
	case ']':
		return l.token(RBRACKET, "]", line, col), nil
	case ';':
		return l.token(SEMICOLON, ";", line, col), nil
	case ',':
		return l.token(COMMA, ",", line, col), nil

	case '+':
		if l.peek() == '+' {
			l.advance()
			return l.token(PLUS_PLUS, "++", line, col), nil
		}
		return two('=', PLUS_ASSIGN, PLUS), nil
	case '-':
		if l.peek() == '-' {
			l.advance()
			return l.token(MINUS_MINUS, "--", line, col), nil
		}
		return two('=', MINUS_ASSIGN, MINUS), nil
	case '*':
		return two('=', STAR_ASSIGN, STAR), nil
	case '/':
		return two('=', SLASH_ASSIGN, SLASH), nil
	case '%':
		return two('=', PERCENT_ASSIGN, PERCENT), nil
	case '&':
		return two('&', AND_LOGICAL, AND), nil
	case '|':
		if l.peek() == '|' {
			l.advance()
			return l.token(OR_LOGICAL, "||", line, col), nil
		}
	case '!':
		return two('=', NOT_EQ, NOT), nil
	case '<':
		return two('=', LESS_EQ, LESS), nil
	case '>':
		return two('=', GREATER_EQ, GREATER), nil
	case '=':
		return two('=', EQUALS, ASSIGN), nil
	}
	return Token{}, fmt.Errorf("unexpected character %q on line %d", ch, line)
}

// Lex tokenises src and returns all tokens including the final EOF token.
// It returns a non-nil error on the first illegal character or unterminated comment.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}
