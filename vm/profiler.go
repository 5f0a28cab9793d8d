package vm

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

// Profiler counts executed opcodes and calls per subprogram entry. A call
// target becomes hot once its count reaches CallHotThreshold.

// CallProfile holds the counters for one CUP target.
type CallProfile struct {
	Target    int    // entry address
	CallCount uint64 // atomic
	IsHot     bool
}

// Profiler is safe for use from several machines at once.
type Profiler struct {
	opcodes [256]atomic.Uint64
	calls   sync.Map // int -> *CallProfile

	CallHotThreshold uint64 // Default: 1000

	// OnHot is called once per target when it becomes hot.
	OnHot func(target int, profile *CallProfile)

	hotCallCount atomic.Uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{CallHotThreshold: 1000}
}

// RecordInstruction counts one executed opcode.
func (p *Profiler) RecordInstruction(op inst.Opcode) {
	p.opcodes[op].Add(1)
}

// RecordCall counts a call to target. It returns true if this call made
// the target hot.
func (p *Profiler) RecordCall(target int) bool {
	val, _ := p.calls.LoadOrStore(target, &CallProfile{Target: target})
	profile := val.(*CallProfile)

	count := atomic.AddUint64(&profile.CallCount, 1)
	if !profile.IsHot && count >= p.CallHotThreshold {
		profile.IsHot = true
		p.hotCallCount.Add(1)
		if p.OnHot != nil {
			p.OnHot(target, profile)
		}
		return true
	}
	return false
}

// OpcodeCount returns how many times op has executed.
func (p *Profiler) OpcodeCount(op inst.Opcode) uint64 {
	return p.opcodes[op].Load()
}

// GetCallProfile returns the profile for target, or nil if it was never
// called.
func (p *Profiler) GetCallProfile(target int) *CallProfile {
	if val, ok := p.calls.Load(target); ok {
		return val.(*CallProfile)
	}
	return nil
}

// IsCallHot returns true if target has reached the hot threshold.
func (p *Profiler) IsCallHot(target int) bool {
	profile := p.GetCallProfile(target)
	return profile != nil && profile.IsHot
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Instructions    uint64 // Total executed instructions
	DistinctOpcodes int    // Opcodes executed at least once
	Calls           uint64 // Total CUP calls
	Targets         int    // Distinct call targets
	HotTargets      int
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	for i := range p.opcodes {
		if n := p.opcodes[i].Load(); n > 0 {
			stats.Instructions += n
			stats.DistinctOpcodes++
		}
	}
	p.calls.Range(func(_, value any) bool {
		profile := value.(*CallProfile)
		stats.Targets++
		stats.Calls += atomic.LoadUint64(&profile.CallCount)
		return true
	})
	stats.HotTargets = int(p.hotCallCount.Load())
	return stats
}

// OpcodeTally pairs an opcode with its execution count.
type OpcodeTally struct {
	Op    inst.Opcode
	Count uint64
}

// TopOpcodes returns the n most executed opcodes, most frequent first.
func (p *Profiler) TopOpcodes(n int) []OpcodeTally {
	var all []OpcodeTally
	for i := range p.opcodes {
		if c := p.opcodes[i].Load(); c > 0 {
			all = append(all, OpcodeTally{Op: inst.Opcode(i), Count: c})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Count > all[j].Count })
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// TopCalls returns the n most called targets, most frequent first.
func (p *Profiler) TopCalls(n int) []*CallProfile {
	var all []*CallProfile
	p.calls.Range(func(_, value any) bool {
		all = append(all, value.(*CallProfile))
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		ci, cj := atomic.LoadUint64(&all[i].CallCount), atomic.LoadUint64(&all[j].CallCount)
		if ci != cj {
			return ci > cj
		}
		return all[i].Target < all[j].Target
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	for i := range p.opcodes {
		p.opcodes[i].Store(0)
	}
	p.calls.Range(func(key, _ any) bool {
		p.calls.Delete(key)
		return true
	})
	p.hotCallCount.Store(0)
}

// Report writes an opcode histogram and the busiest call targets. Targets
// are labelled with the listing comment at their entry when image is set.
func (p *Profiler) Report(w io.Writer, image *bytecode.Image) error {
	stats := p.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d instructions, %d opcodes, %d calls to %d targets (%d hot)\n",
		stats.Instructions, stats.DistinctOpcodes, stats.Calls, stats.Targets, stats.HotTargets)
	for _, t := range p.TopOpcodes(10) {
		fmt.Fprintf(&sb, "  %-4s %10d\n", t.Op, t.Count)
	}
	for _, c := range p.TopCalls(10) {
		label := ""
		if image != nil {
			label = image.Comment(c.Target)
		}
		fmt.Fprintf(&sb, "  %04d %10d  %s\n", c.Target, atomic.LoadUint64(&c.CallCount), label)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
