package builtin

import (
	"math"
	"time"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// realFunc wraps a function of one real argument.
func realFunc(name string, result inst.TypeCode, fn func(float64) bytecode.Value) bytecode.NativeProcedure {
	return bytecode.NativeProcedure{
		Name:       name,
		ReturnType: result,
		Params:     params(inst.R),
		Fn: func(_ bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
			if err := checkArgs(name, args, 1, 1); err != nil {
				return bytecode.Undefined, err
			}
			return fn(args[0].AsReal()), nil
		},
	}
}

func realOf(fn func(float64) float64) func(float64) bytecode.Value {
	return func(t float64) bytecode.Value { return bytecode.Real(fn(t)) }
}

func mathProcedures(s *state) []bytecode.NativeProcedure {
	return []bytecode.NativeProcedure{
		realFunc("Sin", inst.R, realOf(math.Sin)),
		realFunc("Cos", inst.R, realOf(math.Cos)),
		realFunc("Round", inst.I, func(t float64) bytecode.Value { return bytecode.Int64(int64(math.Round(t))) }),
		realFunc("Trunc", inst.I, func(t float64) bytecode.Value { return bytecode.Int64(int64(math.Trunc(t))) }),
		realFunc("Odd", inst.B, func(t float64) bytecode.Value { return bytecode.Bool(int64(math.Round(t))%2 != 0) }),
		realFunc("Abs", inst.R, realOf(math.Abs)),
		realFunc("Sqrt", inst.R, realOf(math.Sqrt)),
		realFunc("Ln", inst.R, realOf(math.Log)),
		realFunc("Sqr", inst.R, realOf(func(t float64) float64 { return t * t })),
		{
			// Random returns a real in [0, 1), or with an argument n a
			// whole number in [0, n].
			Name:       "Random",
			ReturnType: inst.R,
			Variadic:   true,
			Fn: func(_ bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
				if err := checkArgs("Random", args, 0, 1); err != nil {
					return bytecode.Undefined, err
				}
				r := s.float()
				if len(args) == 0 {
					return bytecode.Real(r), nil
				}
				return bytecode.Real(math.Round(r * args[0].AsReal())), nil
			},
		},
		{
			Name:       "Randomize",
			ReturnType: inst.P,
			Fn: func(_ bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
				if err := checkArgs("Randomize", args, 0, 0); err != nil {
					return bytecode.Undefined, err
				}
				s.seed(uint64(time.Now().UnixNano()))
				return bytecode.Undefined, nil
			},
		},
	}
}
