package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // variable / function name
	INTEGER    // integer literal, decimal or hex, optional l/L suffix
	FLOATING   // floating literal, optional f/F suffix
	CHARACTER  // character literal 'c'; Lexeme holds the decoded character
	STRING     // string literal "..."; Lexeme holds the decoded text

	// Keywords
	CHAR     // "char"
	INT      // "int"
	LONG     // "long"
	FLOAT    // "float"
	DOUBLE   // "double"
	VOID     // "void"
	IF       // "if"
	ELSE     // "else"
	WHILE    // "while"
	FOR      // "for"
	RETURN   // "return"
	BREAK    // "break"
	CONTINUE // "continue"
	SIZEOF   // "sizeof"

	// Paired delimiters
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	SEMICOLON // ;
	COMMA     // ,

	// Arithmetic operators
	PLUS        // +
	MINUS       // -
	STAR        // *
	SLASH       // /
	PERCENT     // %
	AND         // & (unary address-of)
	AND_LOGICAL // &&
	OR_LOGICAL  // ||
	NOT         // !

	PLUS_PLUS   // ++
	MINUS_MINUS // --

	// Assignment / comparison
	ASSIGN         // =
	PLUS_ASSIGN    // +=
	MINUS_ASSIGN   // -=
	STAR_ASSIGN    // *=
	SLASH_ASSIGN   // /=
	PERCENT_ASSIGN // %=

	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=
)

var tokenNames = [...]string{
	EOF:            "EOF",
	IDENTIFIER:     "IDENTIFIER",
	INTEGER:        "INTEGER",
	FLOATING:       "FLOATING",
	CHARACTER:      "CHARACTER",
	STRING:         "STRING",
	CHAR:           "CHAR",
	INT:            "INT",
	LONG:           "LONG",
	FLOAT:          "FLOAT",
	DOUBLE:         "DOUBLE",
	VOID:           "VOID",
	IF:             "IF",
	ELSE:           "ELSE",
	WHILE:          "WHILE",
	FOR:            "FOR",
	RETURN:         "RETURN",
	BREAK:          "BREAK",
	CONTINUE:       "CONTINUE",
	SIZEOF:         "SIZEOF",
	LBRACE:         "LBRACE",
	RBRACE:         "RBRACE",
	LPAREN:         "LPAREN",
	RPAREN:         "RPAREN",
	LBRACKET:       "LBRACKET",
	RBRACKET:       "RBRACKET",
	SEMICOLON:      "SEMICOLON",
	COMMA:          "COMMA",
	PLUS:           "PLUS",
	MINUS:          "MINUS",
	STAR:           "STAR",
	SLASH:          "SLASH",
	PERCENT:        "PERCENT",
	AND:            "AND",
	AND_LOGICAL:    "AND_LOGICAL",
	OR_LOGICAL:     "OR_LOGICAL",
	NOT:            "NOT",
	PLUS_PLUS:      "PLUS_PLUS",
	MINUS_MINUS:    "MINUS_MINUS",
	ASSIGN:         "ASSIGN",
	PLUS_ASSIGN:    "PLUS_ASSIGN",
	MINUS_ASSIGN:   "MINUS_ASSIGN",
	STAR_ASSIGN:    "STAR_ASSIGN",
	SLASH_ASSIGN:   "SLASH_ASSIGN",
	PERCENT_ASSIGN: "PERCENT_ASSIGN",
	EQUALS:         "EQUALS",
	NOT_EQ:         "NOT_EQ",
	LESS:           "LESS",
	GREATER:        "GREATER",
	LESS_EQ:        "LESS_EQ",
	GREATER_EQ:     "GREATER_EQ",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// isTypeKeyword reports whether tt starts a type specifier.
func (tt TokenType) isTypeKeyword() bool {
	switch tt {
	case CHAR, INT, LONG, FLOAT, DOUBLE, VOID:
		return true
	}
	return false
}

// isAssignOp reports whether tt is = or a compound assignment.
func (tt TokenType) isAssignOp() bool {
	switch tt {
	case ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN, PERCENT_ASSIGN:
		return true
	}
	return false
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched
	Line   int    // 1-based source line
	Col    int    // 1-based column of the first character
}

// Pos returns the token's source position.
func (t Token) Pos() Pos { return Pos{Line: t.Line, Col: t.Col} }

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d:%d", t.Type, t.Lexeme, t.Line, t.Col)
}
