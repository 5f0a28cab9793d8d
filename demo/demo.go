// Package demo holds sample programs as resolved syntax trees, ready for
// the compiler. They stand in for a front end and cover every construct
// the code generator lowers.
package demo

import (
	"sort"
	"strings"

	"github.com/chazu/pmachine/ast"
	"github.com/chazu/pmachine/bytecode"
)

// Program is a named sample program.
type Program struct {
	Name        string
	Description string
	// Input holds the lines the program reads with ReadLn, in order.
	Input []string
	// Output is what the program writes when run with Input.
	Output []string

	build func(natives *bytecode.Registry) *ast.Program
}

// Build resolves the program against natives, which must contain the
// builtin procedures.
func (p Program) Build(natives *bytecode.Registry) *ast.Program {
	return p.build(natives)
}

var programs = map[string]Program{}

func register(p Program) {
	programs[strings.ToLower(p.Name)] = p
}

// All returns every sample program sorted by name.
func All() []Program {
	all := make([]Program, 0, len(programs))
	for _, p := range programs {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup finds a sample program by name, ignoring case.
func Lookup(name string) (Program, bool) {
	p, ok := programs[strings.ToLower(name)]
	return p, ok
}
