package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/pmachine/inst"
)

// Control is the surface of the machine that native procedures see.
type Control interface {
	// Stop ends the run. Safe to call more than once.
	Stop()
	// Suspend parks the machine until Resume.
	Suspend()
	Resume()
	// Delay asks the host not to step the machine for ms milliseconds.
	Delay(ms int)
	WriteLine(text string)
	// ReadLine requests a line from the host. The machine must be
	// suspended first; fn runs when the line arrives.
	ReadLine(fn func(line string)) error
	ReadMemory(address int) (Value, error)
	WriteMemory(address int, v Value) error
	Push(v Value) error
	Malloc(size int) (int, error)
	Free(address int) error
	KeyPressed() bool
	ReadKey() int
}

// NativeFunc implements a native procedure. By-reference parameters arrive
// as addresses. Procedures return Undefined.
type NativeFunc func(ctl Control, args []Value) (Value, error)

// NativeParam describes one declared parameter.
type NativeParam struct {
	Type  inst.TypeCode
	ByRef bool
}

// NativeProcedure is a host routine callable through CSP.
type NativeProcedure struct {
	Name       string
	ReturnType inst.TypeCode // inst.P for procedures
	Params     []NativeParam
	Variadic   bool // accepts any number of arguments of any type
	Fn         NativeFunc
}

// IsFunction reports whether the procedure leaves a result on the stack.
func (p *NativeProcedure) IsFunction() bool {
	return p.ReturnType != inst.P
}

// Registry is the ordered table of native procedures. The index of a
// procedure is its CSP operand and never changes.
type Registry struct {
	procs  []*NativeProcedure
	byName map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends a procedure and returns its index. Names are matched
// case-insensitively and must be unique.
func (r *Registry) Register(p NativeProcedure) (int, error) {
	if p.Fn == nil {
		return 0, fmt.Errorf("native %q has no implementation", p.Name)
	}
	key := strings.ToLower(p.Name)
	if _, dup := r.byName[key]; dup {
		return 0, fmt.Errorf("native %q already registered", p.Name)
	}
	idx := len(r.procs)
	if idx > inst.MaxOperand2 {
		return 0, fmt.Errorf("native registry full (%d entries)", idx)
	}
	proc := p
	r.procs = append(r.procs, &proc)
	r.byName[key] = idx
	return idx, nil
}

// Lookup finds a procedure by name.
func (r *Registry) Lookup(name string) (int, bool) {
	idx, ok := r.byName[strings.ToLower(name)]
	return idx, ok
}

// At returns the procedure with the given index.
func (r *Registry) At(index int) (*NativeProcedure, bool) {
	if r == nil || index < 0 || index >= len(r.procs) {
		return nil, false
	}
	return r.procs[index], true
}

func (r *Registry) Len() int {
	return len(r.procs)
}
