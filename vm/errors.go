package vm

import (
	"errors"
	"fmt"
)

// ErrNotSuspended is returned by ReadLine when the machine has not been
// suspended before requesting input.
var ErrNotSuspended = errors.New("machine must be suspended before reading input")

// ErrorKind classifies a runtime fault.
type ErrorKind uint8

const (
	DivideByZero ErrorKind = iota + 1
	InvalidAddress
	StackOverflow
	OutOfMemory
	UnknownInstruction
	Encoding
	Native
)

var errorKindNames = [...]string{
	DivideByZero:       "divide by zero",
	InvalidAddress:     "invalid address",
	StackOverflow:      "stack overflow",
	OutOfMemory:        "out of memory",
	UnknownInstruction: "unknown instruction",
	Encoding:           "encoding",
	Native:             "native procedure",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) && errorKindNames[k] != "" {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// MachineError is a fault raised while executing one instruction. Snapshot
// is the machine state at the faulting instruction.
type MachineError struct {
	Kind     ErrorKind
	Msg      string
	Snapshot Snapshot
	Err      error // cause, for Native faults
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("%s at pc %d: %s", e.Kind, e.Snapshot.PC, e.Msg)
}

func (e *MachineError) Unwrap() error {
	return e.Err
}

// fault is raised by the execute helpers and turned into a MachineError
// by StepOnce, which fills in the snapshot.
type fault struct {
	kind ErrorKind
	msg  string
	err  error
}

func (f *fault) Error() string { return f.msg }

func faultf(kind ErrorKind, format string, args ...any) *fault {
	return &fault{kind: kind, msg: fmt.Sprintf(format, args...)}
}
