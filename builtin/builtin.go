// Package builtin provides the standard native procedures, constants and
// type names of the language.
package builtin

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/pmachine/ast"
	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

var log = commonlog.GetLogger("pmachine.builtin")

// Option configures the natives registered by Register.
type Option func(*state)

// WithSeed makes Random deterministic until the program calls Randomize.
func WithSeed(seed uint64) Option {
	return func(s *state) {
		s.seed(seed)
	}
}

// state is shared by the natives of one registry.
type state struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *state) seed(seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (s *state) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NewRegistry returns a registry holding every standard native.
func NewRegistry(opts ...Option) (*bytecode.Registry, error) {
	reg := bytecode.NewRegistry()
	if err := Register(reg, opts...); err != nil {
		return nil, err
	}
	return reg, nil
}

// MustRegistry is NewRegistry for program setup that cannot fail.
func MustRegistry(opts ...Option) *bytecode.Registry {
	reg, err := NewRegistry(opts...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Register adds the standard natives to reg.
func Register(reg *bytecode.Registry, opts ...Option) error {
	s := &state{}
	s.seed(uint64(time.Now().UnixNano()))
	for _, opt := range opts {
		opt(s)
	}

	var procs []bytecode.NativeProcedure
	procs = append(procs, mathProcedures(s)...)
	procs = append(procs, systemProcedures()...)
	procs = append(procs, crtProcedures()...)
	for _, p := range procs {
		if _, err := reg.Register(p); err != nil {
			return fmt.Errorf("register builtins: %w", err)
		}
	}
	log.Debugf("registered %d builtin natives", len(procs))
	return nil
}

// ---------------------------------------------------------------------------
// Constants and types
// ---------------------------------------------------------------------------

var constants = map[string]bytecode.Value{
	"pi":    bytecode.Real(math.Pi),
	"true":  bytecode.Bool(true),
	"false": bytecode.Bool(false),
	"nil":   bytecode.Nil,
}

// Constant looks up a predefined constant such as Pi or Nil.
func Constant(name string) (bytecode.Value, bool) {
	v, ok := constants[strings.ToLower(name)]
	return v, ok
}

var types = map[string]ast.Type{
	"string":   ast.String,
	"integer":  ast.Integer,
	"shortint": ast.Integer,
	"longint":  ast.Integer,
	"char":     ast.Char,
	"boolean":  ast.Boolean,
	"real":     ast.Real,
	"double":   ast.Real,
	"pointer":  ast.Pointer,
}

// Type looks up a predefined type name. Integer aliases and Double map to
// the machine's single integer and real types.
func Type(name string) (ast.Type, bool) {
	t, ok := types[strings.ToLower(name)]
	return t, ok
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func checkArgs(name string, args []bytecode.Value, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("%s takes %d arguments, got %d", name, lo, len(args))
		}
		return fmt.Errorf("%s takes %d to %d arguments, got %d", name, lo, hi, len(args))
	}
	return nil
}

func params(codes ...inst.TypeCode) []bytecode.NativeParam {
	ps := make([]bytecode.NativeParam, len(codes))
	for i, c := range codes {
		ps[i] = bytecode.NativeParam{Type: c}
	}
	return ps
}

// byRef marks the first parameter as a variable parameter.
func byRef(ps []bytecode.NativeParam) []bytecode.NativeParam {
	ps[0].ByRef = true
	return ps
}
