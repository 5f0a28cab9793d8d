package builtin

import (
	"strings"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

func systemProcedures() []bytecode.NativeProcedure {
	return []bytecode.NativeProcedure{
		{Name: "Inc", ReturnType: inst.P, Params: byRef(params(inst.I, inst.I)), Fn: adjust("Inc", 1)},
		{Name: "Dec", ReturnType: inst.P, Params: byRef(params(inst.I, inst.I)), Fn: adjust("Dec", -1)},
		{Name: "WriteLn", ReturnType: inst.P, Variadic: true, Fn: writeLn},
		{Name: "ReadLn", ReturnType: inst.S, Fn: readLn},
		{Name: "Halt", ReturnType: inst.P, Fn: halt},
		{Name: "Delay", ReturnType: inst.P, Params: params(inst.I), Fn: delay},
		{Name: "New", ReturnType: inst.P, Params: byRef(params(inst.A, inst.I)), Fn: allocate("New")},
		{Name: "GetMem", ReturnType: inst.P, Params: byRef(params(inst.A, inst.I)), Fn: allocate("GetMem")},
		{Name: "Dispose", ReturnType: inst.P, Params: byRef(params(inst.A)), Fn: dispose},
	}
}

// adjust implements Inc and Dec: add sign times the optional step (1 by
// default) to the variable at args[0].
func adjust(name string, sign int64) bytecode.NativeFunc {
	return func(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
		if err := checkArgs(name, args, 1, 2); err != nil {
			return bytecode.Undefined, err
		}
		delta := sign
		if len(args) == 2 {
			delta *= int64(args[1].AsInt())
		}
		addr := args[0].AsInt()
		v, err := ctl.ReadMemory(addr)
		if err != nil {
			return bytecode.Undefined, err
		}
		if v.IsReal() {
			v = bytecode.Real(v.F + float64(delta))
		} else {
			v.I += delta
		}
		return bytecode.Undefined, ctl.WriteMemory(addr, v)
	}
}

// writeLn writes its arguments on one line, separated by single spaces.
func writeLn(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	ctl.WriteLine(strings.Join(parts, " "))
	return bytecode.Undefined, nil
}

// readLn suspends the machine until the host delivers a line, then pushes
// it as the function result and resumes.
func readLn(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
	if err := checkArgs("ReadLn", args, 0, 0); err != nil {
		return bytecode.Undefined, err
	}
	ctl.Suspend()
	err := ctl.ReadLine(func(line string) {
		if err := ctl.Push(bytecode.String(line)); err != nil {
			log.Errorf("ReadLn: %s", err)
			ctl.Stop()
			return
		}
		ctl.Resume()
	})
	return bytecode.Undefined, err
}

func halt(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
	ctl.Stop()
	return bytecode.Undefined, nil
}

func delay(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
	if err := checkArgs("Delay", args, 1, 1); err != nil {
		return bytecode.Undefined, err
	}
	ctl.Delay(args[0].AsInt())
	return bytecode.Undefined, nil
}

// allocate implements New and GetMem: reserve args[1] words and store the
// address in the pointer variable at args[0].
func allocate(name string) bytecode.NativeFunc {
	return func(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
		if err := checkArgs(name, args, 2, 2); err != nil {
			return bytecode.Undefined, err
		}
		addr, err := ctl.Malloc(args[1].AsInt())
		if err != nil {
			return bytecode.Undefined, err
		}
		return bytecode.Undefined, ctl.WriteMemory(args[0].AsInt(), bytecode.Address(addr))
	}
}

// dispose frees the block the pointer variable at args[0] refers to and
// sets the variable to nil.
func dispose(ctl bytecode.Control, args []bytecode.Value) (bytecode.Value, error) {
	if err := checkArgs("Dispose", args, 1, 1); err != nil {
		return bytecode.Undefined, err
	}
	p := args[0].AsInt()
	block, err := ctl.ReadMemory(p)
	if err != nil {
		return bytecode.Undefined, err
	}
	if err := ctl.Free(block.AsInt()); err != nil {
		return bytecode.Undefined, err
	}
	return bytecode.Undefined, ctl.WriteMemory(p, bytecode.Nil)
}
