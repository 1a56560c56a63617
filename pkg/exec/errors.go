package exec

import (
	"context"
	"errors"
	"fmt"

	"tinyc/pkg/compiler"
	"tinyc/pkg/storage"
	"tinyc/pkg/value"
)

// Code is the result of evaluating a node. Negative codes are control-flow
// signals, zero is success and positive codes are errors.
type Code int

const (
	CodeBreak Code = iota - 100
	CodeContinue
	CodeReturn
	CodeSignal
)

const CodeNone Code = 0

const (
	CodeError Code = iota + 1
	CodeFatal
	CodeUnknownStatement
	CodeIdentifierNotFound
	CodeOperandNotFound
	CodeSemicolon
	CodeParenMismatch
	CodeBadScalar
	CodeUnimplementedNode
	CodeUnimplementedMonadic
	CodeUnimplementedDiadic
	CodeUnimplementedRelation
	CodeUnknownIdentifier
	CodeExpectedComma
	CodeExpectedEntryPoint
	CodeUnknownEntryPoint
	CodeArgMismatch
	CodeExpectedDeclaration
	CodeExpectedArgument
	CodeInvalidLvalue
	CodeVoidReturn
	CodeReturnValue
	CodeDivideByZero
	CodeFault
	CodeStackUnderflow
	CodeStackOverflow
	CodeOutOfMemory
	CodeInvalidFree
	CodeAssert
)

var codeNames = map[Code]string{
	CodeBreak:                 "BREAK",
	CodeContinue:              "CONTINUE",
	CodeReturn:                "RETURN",
	CodeSignal:                "SIGNAL",
	CodeNone:                  "NONE",
	CodeError:                 "ERROR",
	CodeFatal:                 "FATAL",
	CodeUnknownStatement:      "UNK_STATEMENT",
	CodeIdentifierNotFound:    "IDENTIFIERNF",
	CodeOperandNotFound:       "OPERANDNF",
	CodeSemicolon:             "SEMICOLON",
	CodeParenMismatch:         "PARENMISMATCH",
	CodeBadScalar:             "INTERP_BAD_SCALAR",
	CodeUnimplementedNode:     "INTERP_UNIMP_NODE",
	CodeUnimplementedMonadic:  "INTERP_UNIMP_MONADIC",
	CodeUnimplementedDiadic:   "INTERP_UNIMP_DIADIC",
	CodeUnimplementedRelation: "INTERP_UNIMP_RELATION",
	CodeUnknownIdentifier:     "UNK_IDENTIFIER",
	CodeExpectedComma:         "EXP_COMMA",
	CodeExpectedEntryPoint:    "EXP_ENTRYPOINT",
	CodeUnknownEntryPoint:     "UNK_ENTRYPOINT",
	CodeArgMismatch:           "ARG_MISMATCH",
	CodeExpectedDeclaration:   "EXP_DECLARATION",
	CodeExpectedArgument:      "EXP_ARGUMENT",
	CodeInvalidLvalue:         "INV_LVALUE",
	CodeVoidReturn:            "VOIDRETURN",
	CodeReturnValue:           "RETURNVALUE",
	CodeDivideByZero:          "DIVZERO",
	CodeFault:                 "FAULT",
	CodeStackUnderflow:        "STACK_UNDERFLOW",
	CodeStackOverflow:         "STACK_OVERFLOW",
	CodeOutOfMemory:           "OUT_OF_MEMORY",
	CodeInvalidFree:           "INVALID_FREE",
	CodeAssert:                "ASSERT",
}

var codeMessages = map[Code]string{
	CodeBreak:                 "break outside a loop",
	CodeContinue:              "continue outside a loop",
	CodeReturn:                "return outside a function",
	CodeSignal:                "unhandled signal",
	CodeError:                 "error",
	CodeFatal:                 "fatal error",
	CodeUnknownStatement:      "unknown statement",
	CodeIdentifierNotFound:    "identifier expected",
	CodeOperandNotFound:       "operand expected",
	CodeSemicolon:             "';' expected",
	CodeParenMismatch:         "mismatched parentheses",
	CodeBadScalar:             "bad scalar value",
	CodeUnimplementedNode:     "unimplemented node",
	CodeUnimplementedMonadic:  "unimplemented unary operator",
	CodeUnimplementedDiadic:   "unimplemented binary operator",
	CodeUnimplementedRelation: "unimplemented relation",
	CodeUnknownIdentifier:     "unknown identifier",
	CodeExpectedComma:         "',' expected",
	CodeExpectedEntryPoint:    "entry point expected",
	CodeUnknownEntryPoint:     "unknown entry point",
	CodeArgMismatch:           "argument mismatch",
	CodeExpectedDeclaration:   "declaration expected",
	CodeExpectedArgument:      "argument expected",
	CodeInvalidLvalue:         "invalid lvalue",
	CodeVoidReturn:            "void function returns a value",
	CodeReturnValue:           "function must return a value",
	CodeDivideByZero:          "division by zero",
	CodeFault:                 "memory fault",
	CodeStackUnderflow:        "storage stack underflow",
	CodeStackOverflow:         "storage stack overflow",
	CodeOutOfMemory:           "out of memory",
	CodeInvalidFree:           "invalid free",
	CodeAssert:                "assertion failed",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// IsSignal reports whether c unwinds control flow rather than reporting a failure.
func (c Code) IsSignal() bool { return c < 0 }

// Error is an execution failure or an in-flight control-flow signal.
type Error struct {
	Code Code
	Pos  compiler.Pos
	// Arg names the offending identifier or operator, when there is one.
	Arg string
	Err error
}

func (e *Error) Error() string {
	msg := codeMessages[e.Code]
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Arg != "" {
		msg += " " + e.Arg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Pos.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Pos.Line, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether the error aborts the whole run. Other errors leave
// storage consistent so callers may inspect it afterwards.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case CodeFatal, CodeFault, CodeStackUnderflow, CodeStackOverflow, CodeOutOfMemory, CodeDivideByZero:
		return true
	}
	return false
}

// CodeOf returns the code carried by err, CodeNone for nil and CodeError for
// errors that did not come from the interpreter.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeError
}

func newError(code Code, n *compiler.Node, arg string) *Error {
	e := &Error{Code: code, Arg: arg}
	if n != nil {
		e.Pos = n.Pos
	}
	return e
}

// signal builds the break, continue or return raised at n.
func signal(code Code, n *compiler.Node) *Error { return &Error{Code: code, Pos: n.Pos} }

// wrap converts an error from storage or value into an *Error with the
// matching code. An *Error passes through unchanged.
func wrap(err error, n *compiler.Node) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	out := &Error{Code: codeFor(err), Err: err}
	if n != nil {
		out.Pos = n.Pos
	}
	return out
}

func codeFor(err error) Code {
	switch {
	case errors.Is(err, storage.ErrFault):
		return CodeFault
	case errors.Is(err, storage.ErrStackOverflow):
		return CodeStackOverflow
	case errors.Is(err, storage.ErrStackUnderflow):
		return CodeStackUnderflow
	case errors.Is(err, storage.ErrOutOfMemory):
		return CodeOutOfMemory
	case errors.Is(err, storage.ErrInvalidFree):
		return CodeInvalidFree
	case errors.Is(err, value.ErrDivideByZero):
		return CodeDivideByZero
	case errors.Is(err, value.ErrBadScalar):
		return CodeBadScalar
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeFatal
	}
	return CodeError
}
