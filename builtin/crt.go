package builtin

import (
	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// The crt unit: keyboard polling through the host's keyboard.
func crtProcedures() []bytecode.NativeProcedure {
	return []bytecode.NativeProcedure{
		{
			Name:       "KeyPressed",
			ReturnType: inst.B,
			Fn: func(ctl bytecode.Control, _ []bytecode.Value) (bytecode.Value, error) {
				return bytecode.Bool(ctl.KeyPressed()), nil
			},
		},
		{
			Name:       "ReadKey",
			ReturnType: inst.C,
			Fn: func(ctl bytecode.Control, _ []bytecode.Value) (bytecode.Value, error) {
				return bytecode.Char(rune(ctl.ReadKey())), nil
			},
		},
	}
}
