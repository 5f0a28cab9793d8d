package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/pmachine/bytecode"
)

// Number of words shown from the top of the stack and the top of the heap.
const (
	stackDisplay = 20
	heapDisplay  = 20
)

// Snapshot is a copy of the registers and the interesting ends of the data
// store. It is safe to keep after the machine moves on.
type Snapshot struct {
	PC           int              `cbor:"pc"`
	Instruction  string           `cbor:"in"`
	MP           int              `cbor:"mp"`
	SP           int              `cbor:"sp"`
	NP           int              `cbor:"np"`
	Stack        []bytecode.Value `cbor:"st"`
	StackClipped bool             `cbor:"sc,omitempty"`
	Heap         []bytecode.Value `cbor:"hp"`
	HeapClipped  bool             `cbor:"hc,omitempty"`
}

// Snapshot captures the current state.
func (m *Machine) Snapshot() Snapshot {
	return m.snapshotAt(m.pc)
}

func (m *Machine) snapshotAt(pc int) Snapshot {
	s := Snapshot{PC: pc, MP: m.mp, SP: m.sp, NP: m.np, Instruction: "---"}
	if i, ok := m.image.Fetch(pc); ok {
		s.Instruction = i.String()
	}

	base := m.image.TypedConstantsLen()
	from := max(base, m.sp-stackDisplay)
	if from < m.sp && m.sp <= len(m.dstore) {
		s.Stack = append([]bytecode.Value(nil), m.dstore[from:m.sp]...)
		s.StackClipped = from > base
	}

	heapSize := len(m.dstore) - m.np
	if heapSize > 0 && m.np >= 0 {
		n := min(heapDisplay, heapSize)
		s.Heap = append([]bytecode.Value(nil), m.dstore[len(m.dstore)-n:]...)
		s.HeapClipped = n < heapSize
	}
	return s
}

// String renders the one-line state dump passed to the debug callback.
func (s Snapshot) String() string {
	return fmt.Sprintf("pc = %4d %-11s mp = %3d stack = %-40s heap = %s",
		s.PC, s.Instruction, s.MP, renderWords(s.Stack, s.StackClipped), renderWords(s.Heap, s.HeapClipped))
}

func renderWords(words []bytecode.Value, clipped bool) string {
	var sb strings.Builder
	sb.WriteByte('[')
	if clipped {
		sb.WriteString("...")
		if len(words) > 0 {
			sb.WriteByte(',')
		}
	}
	for i, w := range words {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(w.Quoted())
	}
	sb.WriteByte(']')
	return sb.String()
}
