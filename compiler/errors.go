package compiler

import (
	"fmt"

	"github.com/chazu/pmachine/ast"
)

// CompileError is a construct the compiler cannot lower: an unsupported
// cast, an operator applied to a type it has no instruction for, or a node
// the tree should never contain.
type CompileError struct {
	Pos ast.Pos
	Msg string
	Err error // underlying cause, e.g. *inst.EncodingError
}

func (e *CompileError) Error() string {
	if e.Pos.Line == 0 {
		return "compile error: " + e.Msg
	}
	return fmt.Sprintf("compile error at %s: %s", e.Pos, e.Msg)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
