package compiler

import (
	"fmt"
)

// Compile runs the front end over src: Preprocess, Lex and Parse. baseDir
// resolves #include "file" directives.
func Compile(src string, baseDir string) (*Node, error) {
	return CompileWith(NewPreprocessor(), src, baseDir)
}

// CompileWith is Compile with a caller-supplied preprocessor, so that
// predefined macros and the include file system can be configured.
func CompileWith(pp *Preprocessor, src string, baseDir string) (*Node, error) {
	var err error
	src, err = pp.Process(src, baseDir)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	tokens, err := Lex(src)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}

	tree, err := Parse(tokens, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tree, nil
}

// CompileExpression lexes and parses a single expression, as typed at a prompt.
func CompileExpression(src string) (*Node, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, fmt.Errorf("lex: %w", err)
	}
	tree, err := NewParser(tokens, src).ParseExpression()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return tree, nil
}
