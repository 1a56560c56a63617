package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"tinyc/pkg/symtab"
	"tinyc/pkg/value"
)

// Parser consumes the flat token slice produced by the Lexer and builds the
// syntax tree.
//
// Grammar:
//
//	module      = (function | declaration | statement)* EOF
//	function    = type ["*"] IDENTIFIER "(" [param ("," param)*] ")" block
//	param       = type ["*"] IDENTIFIER ["[" "]"]
//	declaration = type declarator ("," declarator)* ";"
//	declarator  = ["*"] IDENTIFIER ["[" INTEGER "]"] ["=" expression]
//	statement   = block | if | while | for | return | break | continue | declaration | expression ";" | ";"
//	expression  = assignment
//	assignment  = logical_or [("=" | "+=" | "-=" | "*=" | "/=" | "%=") assignment]
//	logical_or  = logical_and ("||" logical_and)*
//	logical_and = equality ("&&" equality)*
//	equality    = relational (("==" | "!=") relational)*
//	relational  = additive (("<" | "<=" | ">" | ">=") additive)*
//	additive    = multiplicative (("+" | "-") multiplicative)*
//	multiplicative = unary (("*" | "/" | "%") unary)*
//	unary       = ("-" | "+" | "!" | "&" | "*" | "++" | "--") unary | "(" type ["*"] ")" unary
//	            | "sizeof" "(" type ["*"] ")" | "sizeof" unary | postfix
//	postfix     = primary ("[" expression "]" | "(" args ")" | "++" | "--")*
//	primary     = INTEGER | FLOATING | CHARACTER | STRING | IDENTIFIER | "(" expression ")"
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, sourceLines: strings.Split(rawSource, "\n")}
}

// SyntaxError is a parse failure with the offending source line attached.
type SyntaxError struct {
	Pos     Pos
	Msg     string
	Snippet string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s\n  |> %s", e.Pos.Line, e.Msg, e.Snippet)
}

// fmtError wraps an error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	lineIdx := tok.Line - 1 // Lines are 1-based

	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}
	return &SyntaxError{Pos: tok.Pos(), Msg: fmt.Sprintf(format, args...), Snippet: snippet}
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	return p.peekAt(0)
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		if len(p.tokens) > 0 {
			last := p.tokens[len(p.tokens)-1]
			return Token{Type: EOF, Line: last.Line, Col: last.Col}
		}
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+offset]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return p.advance(), nil
}

func (p *Parser) accept(tt TokenType) bool {
	if p.peek().Type == tt {
		p.advance()
		return true
	}
	return false
}

func node(kind Kind, tok Token, children ...*Node) *Node {
	return &Node{Kind: kind, Pos: tok.Pos(), Children: children}
}

// Parse builds a KindModule tree from the token stream.
func Parse(tokens []Token, rawSource string) (*Node, error) {
	p := NewParser(tokens, rawSource)
	return p.ParseModule()
}

// ParseModule parses the whole token stream.
func (p *Parser) ParseModule() (*Node, error) {
	module := node(KindModule, p.peek())
	for p.peek().Type != EOF {
		var (
			n   *Node
			err error
		)
		if p.atFunction() {
			n, err = p.parseFunction()
		} else {
			n, err = p.parseStatement()
		}
		if err != nil {
			return nil, err
		}
		if n != nil {
			module.Children = append(module.Children, n)
		}
	}
	return module, nil
}

// ParseExpression parses a single expression that must consume every token.
func (p *Parser) ParseExpression() (*Node, error) {
	n, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	p.accept(SEMICOLON)
	if tok := p.peek(); tok.Type != EOF {
		return nil, p.fmtError(tok, "unexpected %s (%q) after expression", tok.Type, tok.Lexeme)
	}
	return n, nil
}

// atFunction looks ahead for type ["*"] IDENTIFIER "(".
func (p *Parser) atFunction() bool {
	if !p.peek().Type.isTypeKeyword() {
		return false
	}
	i := 1
	if p.peekAt(i).Type == STAR {
		i++
	}
	return p.peekAt(i).Type == IDENTIFIER && p.peekAt(i+1).Type == LPAREN
}

// parseBaseType consumes a type keyword.
func (p *Parser) parseBaseType() (value.Type, Token, error) {
	tok := p.advance()
	switch tok.Type {
	case CHAR:
		return value.Char, tok, nil
	case INT:
		return value.Int, tok, nil
	case LONG:
		p.accept(INT) // long int
		return value.Long, tok, nil
	case FLOAT:
		return value.Float, tok, nil
	case DOUBLE:
		return value.Double, tok, nil
	case VOID:
		return value.Undefined, tok, nil
	}
	return 0, tok, p.fmtError(tok, "expected type, got %s (%q)", tok.Type, tok.Lexeme)
}

// parseType consumes a type keyword and an optional "*".
func (p *Parser) parseType() (symtab.Attr, Token, error) {
	base, tok, err := p.parseBaseType()
	if err != nil {
		return 0, tok, err
	}
	attr := symtab.MakeAttr(base, 0)
	if p.accept(STAR) {
		attr = pointerTo(attr)
	}
	if p.peek().Type == STAR {
		return 0, tok, p.fmtError(p.peek(), "only single-level pointers are supported")
	}
	return attr, tok, nil
}

// pointerTo adds the pointer modifier. A void pointer addresses bytes.
func pointerTo(a symtab.Attr) symtab.Attr {
	if a.Base() == value.Undefined {
		a = symtab.MakeAttr(value.Char, a&symtab.ModifierMask)
	}
	return a.With(symtab.Pointer)
}

func (p *Parser) parseFunction() (*Node, error) {
	ret, typeTok, err := p.parseType()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	fn := node(KindEntryPoint, typeTok)
	fn.Spelling = nameTok.Lexeme
	fn.Argument = ret

	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	// f(void) declares no parameters.
	if p.peek().Type == VOID && p.peekAt(1).Type == RPAREN {
		p.advance()
	}
	if p.peek().Type != RPAREN {
		for {
			param, err := p.parseParam()
			if err != nil {
				return nil, err
			}
			fn.Children = append(fn.Children, param)
			if !p.accept(COMMA) {
				break
			}
		}
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}

	lbrace, err := p.expect(LBRACE)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock(lbrace)
	if err != nil {
		return nil, err
	}
	fn.Children = append(fn.Children, body)
	return fn, nil
}

func (p *Parser) parseParam() (*Node, error) {
	attr, typeTok, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if attr.IsVoid() {
		return nil, p.fmtError(typeTok, "parameter cannot be void")
	}
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	// An array parameter is a pointer to its first element.
	if p.accept(LBRACKET) {
		if attr.Has(symtab.Pointer) {
			return nil, p.fmtError(nameTok, "arrays of pointers are not supported")
		}
		if _, err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
		attr = pointerTo(attr)
	}
	n := node(KindReferenceArg, nameTok)
	n.Spelling = nameTok.Lexeme
	n.Argument = Decl{Attr: attr.With(symtab.Auto)}
	return n, nil
}

func (p *Parser) parseDeclaration() (*Node, error) {
	base, typeTok, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}

	decl := node(KindDeclare, typeTok)
	for {
		attr := symtab.MakeAttr(base, 0)
		if p.accept(STAR) {
			attr = pointerTo(attr)
			if p.peek().Type == STAR {
				return nil, p.fmtError(p.peek(), "only single-level pointers are supported")
			}
		}
		nameTok, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if attr.IsVoid() {
			return nil, p.fmtError(nameTok, "variable %s declared void", nameTok.Lexeme)
		}

		d := Decl{Attr: attr}
		if p.accept(LBRACKET) {
			if attr.Has(symtab.Pointer) {
				return nil, p.fmtError(nameTok, "arrays of pointers are not supported")
			}
			sizeTok, err := p.expect(INTEGER)
			if err != nil {
				return nil, err
			}
			count, err := strconv.ParseInt(strings.TrimRight(sizeTok.Lexeme, "lL"), 0, 64)
			if err != nil || count <= 0 {
				return nil, p.fmtError(sizeTok, "invalid array size %q", sizeTok.Lexeme)
			}
			if count > math.MaxInt64/attr.ElementSize() {
				return nil, p.fmtError(sizeTok, "array %s is too large", nameTok.Lexeme)
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			d.Attr = d.Attr.With(symtab.Array)
			d.Count = count
		}

		name := node(KindName, nameTok)
		name.Spelling = nameTok.Lexeme
		name.Argument = d
		if p.accept(ASSIGN) {
			if d.Count > 0 {
				return nil, p.fmtError(nameTok, "array %s cannot have an initializer", nameTok.Lexeme)
			}
			init, err := p.parseAssignment()
			if err != nil {
				return nil, err
			}
			name.Children = append(name.Children, init)
		}
		decl.Children = append(decl.Children, name)

		if !p.accept(COMMA) {
			break
		}
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return decl, nil
}

// parseStatement dispatches to the correct sub-parser based on the leading token.
func (p *Parser) parseStatement() (*Node, error) {
	tok := p.peek()
	switch tok.Type {
	case LBRACE:
		p.advance()
		return p.parseBlock(tok)

	case IF:
		p.advance()
		return p.parseIf(tok)

	case WHILE:
		p.advance()
		return p.parseWhile(tok)

	case FOR:
		p.advance()
		return p.parseFor(tok)

	case RETURN:
		p.advance()
		ret := node(KindReturn, tok)
		if p.peek().Type != SEMICOLON {
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			ret.Children = append(ret.Children, expr)
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		return ret, nil

	case BREAK, CONTINUE:
		p.advance()
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		if tok.Type == BREAK {
			return node(KindBreak, tok), nil
		}
		return node(KindContinue, tok), nil

	case SEMICOLON:
		p.advance()
		return node(KindEmpty, tok), nil

	case CHAR, INT, LONG, FLOAT, DOUBLE, VOID:
		return p.parseDeclaration()

	case EOF:
		return nil, p.fmtError(tok, "unexpected end of input")
	}

	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseBlock parses the statements up to "}". The opening brace has been consumed.
func (p *Parser) parseBlock(open Token) (*Node, error) {
	block := node(KindBlock, open)
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.fmtError(open, "unterminated block")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Children = append(block.Children, stmt)
	}
	p.advance() // }
	return block, nil
}

func (p *Parser) parseCondition() (*Node, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return cond, nil
}

func (p *Parser) parseIf(tok Token) (*Node, error) {
	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	n := node(KindIf, tok, cond, then)
	if p.accept(ELSE) {
		otherwise, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, otherwise)
	}
	return n, nil
}

func (p *Parser) parseWhile(tok Token) (*Node, error) {
	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return node(KindWhile, tok, cond, body), nil
}

// parseFor parses for ( init; cond; post ) body. Omitted clauses become KindEmpty.
func (p *Parser) parseFor(tok Token) (*Node, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}

	var init *Node
	switch {
	case p.peek().Type == SEMICOLON:
		init = node(KindEmpty, p.advance())
	case p.peek().Type.isTypeKeyword():
		d, err := p.parseDeclaration()
		if err != nil {
			return nil, err
		}
		init = d
	default:
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		init = expr
	}

	cond := node(KindEmpty, p.peek())
	if p.peek().Type != SEMICOLON {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		cond = expr
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}

	post := node(KindEmpty, p.peek())
	if p.peek().Type != RPAREN {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		post = expr
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}

	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return node(KindFor, tok, init, cond, post, body), nil
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (*Node, error) {
	return p.parseAssignment()
}

// parseAssignment handles = and the compound forms, right to left.
func (p *Parser) parseAssignment() (*Node, error) {
	left, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if !p.peek().Type.isAssignOp() {
		return left, nil
	}
	opTok := p.advance()
	right, err := p.parseAssignment()
	if err != nil {
		return nil, err
	}
	n := node(KindAssignment, opTok, left, right)
	n.Action = opTok.Lexeme
	return n, nil
}

// binaryLevel parses next (op next)* for the given operators.
func (p *Parser) binaryLevel(kind Kind, next func() (*Node, error), ops ...TokenType) (*Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		matched := false
		for _, op := range ops {
			if tok.Type == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		n := node(kind, tok, left, right)
		n.Action = tok.Lexeme
		left = n
	}
}

func (p *Parser) parseLogicalOr() (*Node, error) {
	return p.binaryLevel(KindLogical, p.parseLogicalAnd, OR_LOGICAL)
}

func (p *Parser) parseLogicalAnd() (*Node, error) {
	return p.binaryLevel(KindLogical, p.parseEquality, AND_LOGICAL)
}

func (p *Parser) parseEquality() (*Node, error) {
	return p.binaryLevel(KindRelation, p.parseRelational, EQUALS, NOT_EQ)
}

func (p *Parser) parseRelational() (*Node, error) {
	return p.binaryLevel(KindRelation, p.parseAdditive, LESS, LESS_EQ, GREATER, GREATER_EQ)
}

func (p *Parser) parseAdditive() (*Node, error) {
	return p.binaryLevel(KindDiadic, p.parseMultiplicative, PLUS, MINUS)
}

func (p *Parser) parseMultiplicative() (*Node, error) {
	return p.binaryLevel(KindDiadic, p.parseUnary, STAR, SLASH, PERCENT)
}

// parseUnary handles prefix operators, casts and sizeof.
func (p *Parser) parseUnary() (*Node, error) {
	tok := p.peek()

	// (type) or (type *) followed by an operand is a cast.
	if tok.Type == LPAREN && p.peekAt(1).Type.isTypeKeyword() {
		p.advance() // (
		attr, _, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n := node(KindCast, tok, operand)
		n.Argument = attr
		return n, nil
	}

	switch tok.Type {
	case SIZEOF:
		p.advance()
		n := node(KindSizeOf, tok)
		if p.peek().Type == LPAREN && p.peekAt(1).Type.isTypeKeyword() {
			p.advance() // (
			attr, _, err := p.parseType()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			n.Argument = attr
			return n, nil
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, operand)
		return n, nil

	case MINUS, PLUS, NOT, AND, STAR, PLUS_PLUS, MINUS_MINUS:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case PLUS:
			return operand, nil
		case AND:
			return node(KindAddress, tok, operand), nil
		case STAR:
			return node(KindDereference, tok, operand), nil
		case PLUS_PLUS, MINUS_MINUS:
			n := node(KindIncrement, tok, operand)
			n.Action = tok.Lexeme
			n.Argument = false
			return n, nil
		}
		n := node(KindMonadic, tok, operand)
		n.Action = tok.Lexeme
		return n, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles array index [], function calls () and postfix ++/--.
func (p *Parser) parsePostfix() (*Node, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		switch tok.Type {
		case LBRACKET:
			p.advance()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			expr = node(KindIndex, tok, expr, index)

		case LPAREN:
			if expr.Kind != KindReference {
				return nil, p.fmtError(tok, "expected function name before '('")
			}
			p.advance()
			call := node(KindCall, tok)
			call.Pos = expr.Pos
			call.Spelling = expr.Spelling
			if p.peek().Type != RPAREN {
				for {
					arg, err := p.parseAssignment()
					if err != nil {
						return nil, err
					}
					call.Children = append(call.Children, arg)
					if !p.accept(COMMA) {
						break
					}
				}
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			expr = call

		case PLUS_PLUS, MINUS_MINUS:
			p.advance()
			n := node(KindIncrement, tok, expr)
			n.Action = tok.Lexeme
			n.Argument = true
			expr = n

		default:
			return expr, nil
		}
	}
}

// parsePrimary handles literals, variables, and parenthesised expressions.
func (p *Parser) parsePrimary() (*Node, error) {
	tok := p.peek()
	switch tok.Type {
	case INTEGER:
		p.advance()
		v, err := parseInteger(tok.Lexeme)
		if err != nil {
			return nil, p.fmtError(tok, "%v", err)
		}
		n := node(KindIntegerConstant, tok)
		n.Argument = v
		return n, nil

	case FLOATING:
		p.advance()
		v, err := parseFloating(tok.Lexeme)
		if err != nil {
			return nil, p.fmtError(tok, "%v", err)
		}
		n := node(KindDoubleConstant, tok)
		n.Argument = v
		return n, nil

	case CHARACTER:
		p.advance()
		n := node(KindIntegerConstant, tok)
		n.Argument = value.NewChar(int8([]rune(tok.Lexeme)[0]))
		return n, nil

	case STRING:
		p.advance()
		n := node(KindStringConstant, tok)
		n.Argument = tok.Lexeme
		// Adjacent literals concatenate.
		for p.peek().Type == STRING {
			n.Argument = n.Argument.(string) + p.advance().Lexeme
		}
		return n, nil

	case IDENTIFIER:
		p.advance()
		n := node(KindReference, tok)
		n.Spelling = tok.Lexeme
		return n, nil

	case LPAREN:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, p.fmtError(tok, "expected expression, got %s (%q)", tok.Type, tok.Lexeme)
}

// parseInteger reads a decimal or hex literal. Values that fit in 32 bits are
// int unless the literal has an l/L suffix.
func parseInteger(lexeme string) (value.Value, error) {
	digits := strings.TrimRight(lexeme, "lL")
	long := digits != lexeme
	n, err := strconv.ParseUint(digits, 0, 64)
	if err != nil {
		return value.Value{}, fmt.Errorf("integer %q out of range", lexeme)
	}
	if !long && n <= math.MaxInt32 {
		return value.NewInt(int32(n)), nil
	}
	return value.NewLong(int64(n)), nil
}

func parseFloating(lexeme string) (value.Value, error) {
	digits := strings.TrimRight(lexeme, "fF")
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return value.Value{}, fmt.Errorf("malformed floating literal %q", lexeme)
	}
	if digits != lexeme {
		return value.NewFloat(float32(f)), nil
	}
	return value.NewDouble(f), nil
}
