// Package compiler is the TinyC front end: a C-subset preprocessor, lexer and
// parser that build a syntax tree, plus the allocation pass that lays out
// globals and string literals in a storage.Manager before execution.
//
// Pipeline: C source → Preprocess → Lex → Parse → Allocate
package compiler
