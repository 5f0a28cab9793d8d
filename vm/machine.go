package vm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/pmachine/bytecode"
	"github.com/chazu/pmachine/inst"
)

var log = commonlog.GetLogger("pmachine.vm")

// DefaultStoreSize is the number of words in the data store.
const DefaultStoreSize = 65536

// DefaultBatchSize is the number of instructions Drive executes per Step.
const DefaultBatchSize = 100000

// State is the execution state of a machine.
type State int32

const (
	Stopped State = iota
	Running
	Suspended
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Keyboard is the host's key source for the crt natives.
type Keyboard interface {
	KeyPressed() bool
	ReadKey() int
}

// Option configures a Machine.
type Option func(*Machine)

// WithStoreSize sets the number of words in the data store.
func WithStoreSize(words int) Option {
	return func(m *Machine) {
		if words > 0 {
			m.storeSize = words
		}
	}
}

// Machine executes a frozen bytecode image. The data store holds the typed
// constants at the bottom, the stack growing up from them and the heap
// growing down from the top.
type Machine struct {
	image    *bytecode.Image
	natives  *bytecode.Registry
	keyboard Keyboard
	ctl      *control

	storeSize int
	dstore    []bytecode.Value

	pc  int // next instruction
	ipc int // instruction being executed
	sp  int // one past the top of the stack
	mp  int // base of the active frame
	np  int // lowest heap word
	ep  int

	state           atomic.Int32
	inCall          atomic.Bool
	suspendedInCall atomic.Bool
	wake            chan struct{}
	lines           chan string
	reader          func(string)
	delayUntil      time.Time

	started time.Time
	err     error

	debugCB  func(string)
	outputCB func(string)
	finishCB func(float64)
	inputCB  func(deliver func(line string))
	profiler *Profiler
}

// New creates a stopped machine for image. keyboard may be nil. The image
// must be frozen.
func New(image *bytecode.Image, keyboard Keyboard, opts ...Option) (*Machine, error) {
	if image == nil {
		return nil, errors.New("vm: nil image")
	}
	if !image.Frozen() {
		return nil, errors.New("vm: image is still being compiled")
	}
	m := &Machine{
		image:     image,
		natives:   image.Natives(),
		keyboard:  keyboard,
		storeSize: DefaultStoreSize,
		wake:      make(chan struct{}, 1),
		lines:     make(chan string, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if tc := image.TypedConstantsLen(); tc+inst.MarkSize >= m.storeSize {
		return nil, fmt.Errorf("vm: store of %d words cannot hold %d typed constant words", m.storeSize, tc)
	}
	m.ctl = &control{m: m}
	m.dstore = make([]bytecode.Value, m.storeSize)
	m.Reset()
	return m, nil
}

// ---------------------------------------------------------------------------
// Host callbacks
// ---------------------------------------------------------------------------

// SetDebugCallback installs fn to receive the state dump after every
// instruction.
func (m *Machine) SetDebugCallback(fn func(dump string)) { m.debugCB = fn }

// SetOutputCallback installs fn to receive each line written by the program.
func (m *Machine) SetOutputCallback(fn func(line string)) { m.outputCB = fn }

// SetFinishCallback installs fn to receive the run time in seconds when the
// machine stops.
func (m *Machine) SetFinishCallback(fn func(seconds float64)) { m.finishCB = fn }

// SetInputCallback installs fn to be asked for a line of input. fn may call
// deliver from any goroutine, at once or later.
func (m *Machine) SetInputCallback(fn func(deliver func(line string))) { m.inputCB = fn }

// SetProfiler attaches p, or detaches profiling when p is nil.
func (m *Machine) SetProfiler(p *Profiler) { m.profiler = p }

func (m *Machine) Profiler() *Profiler { return m.profiler }

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

func (m *Machine) PC() int                   { return m.pc }
func (m *Machine) SP() int                   { return m.sp }
func (m *Machine) MP() int                   { return m.mp }
func (m *Machine) NP() int                   { return m.np }
func (m *Machine) StoreSize() int            { return len(m.dstore) }
func (m *Machine) Image() *bytecode.Image    { return m.image }
func (m *Machine) Control() bytecode.Control { return m.ctl }

// Err returns the runtime error that stopped the last run, if any.
func (m *Machine) Err() error { return m.err }

// Memory reads a word of the data store with the usual address checks.
func (m *Machine) Memory(address int) (bytecode.Value, error) {
	v, err := m.load(address)
	if err != nil {
		return bytecode.Undefined, m.machineError(err)
	}
	return v, nil
}

// State returns the execution state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Reset clears the data store, copies the typed constants to its bottom and
// points pc at the start address. The machine is left stopped.
func (m *Machine) Reset() {
	m.state.Store(int32(Stopped))
	clear(m.dstore)
	tc := m.image.TypedConstants()
	copy(m.dstore, tc)

	m.pc = m.image.StartAddress()
	m.ipc = m.pc
	m.sp = len(tc)
	m.mp = 0
	m.np = len(m.dstore)
	m.ep = 0

	m.err = nil
	m.reader = nil
	m.delayUntil = time.Time{}
	m.inCall.Store(false)
	m.suspendedInCall.Store(false)
	select {
	case <-m.lines:
	default:
	}
}

// Run resets the machine and starts it. A run still in progress is stopped
// first, so its finish callback fires. Execution happens in Step or Drive.
func (m *Machine) Run() {
	if m.State() != Stopped {
		m.Stop()
	}
	m.Reset()
	m.started = time.Now()
	m.state.Store(int32(Running))
	log.Infof("run started at %d (%d instructions, store %d words)", m.pc, m.image.Len(), len(m.dstore))
}

// Stop ends the run and fires the finish callback. Stopping a stopped
// machine does nothing.
func (m *Machine) Stop() {
	if State(m.state.Swap(int32(Stopped))) == Stopped {
		return
	}
	elapsed := time.Since(m.started).Seconds()
	log.Infof("run stopped at %d after %.3fs", m.pc, elapsed)
	m.signal()
	if m.finishCB != nil {
		m.finishCB(elapsed)
	}
}

// Suspend parks a running machine until Resume.
func (m *Machine) Suspend() {
	if m.state.CompareAndSwap(int32(Running), int32(Suspended)) && m.inCall.Load() {
		m.suspendedInCall.Store(true)
	}
}

// Resume continues a suspended machine. It may be called from any
// goroutine.
func (m *Machine) Resume() {
	if m.state.CompareAndSwap(int32(Suspended), int32(Running)) {
		m.signal()
	}
}

// Delay holds the machine for ms milliseconds. Step does nothing until the
// delay has elapsed.
func (m *Machine) Delay(ms int) {
	if ms <= 0 {
		return
	}
	m.delayUntil = time.Now().Add(time.Duration(ms) * time.Millisecond)
}

// PendingDelay returns how long the machine is still held by Delay.
func (m *Machine) PendingDelay() time.Duration {
	if m.delayUntil.IsZero() {
		return 0
	}
	d := time.Until(m.delayUntil)
	if d <= 0 {
		m.delayUntil = time.Time{}
		return 0
	}
	return d
}

func (m *Machine) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

// Step executes up to n instructions and returns how many ran. It returns
// early when the machine leaves Running or a delay is pending.
func (m *Machine) Step(n int) int {
	m.pollInput()
	done := 0
	for done < n && m.State() == Running && m.PendingDelay() == 0 {
		m.StepOnce()
		done++
	}
	return done
}

// StepOnce executes one instruction. A fault is logged with the state dump,
// kept for Err, and stops the machine.
func (m *Machine) StepOnce() {
	if m.State() != Running {
		return
	}
	m.ipc = m.pc
	word, ok := m.image.Fetch(m.pc)
	if !ok {
		m.fail(faultf(InvalidAddress, "instruction address %d outside program of %d", m.pc, m.image.Len()))
		return
	}
	m.pc++
	if m.profiler != nil {
		m.profiler.RecordInstruction(word.Opcode())
	}
	if err := m.execute(word); err != nil {
		m.fail(err)
		return
	}
	if m.debugCB != nil {
		m.debugCB(m.Snapshot().String())
	}
}

func (m *Machine) fail(err error) {
	merr := m.machineError(err)
	m.err = merr
	log.Errorf("%s", merr)
	log.Errorf("%s", merr.Snapshot)
	m.Stop()
}

// machineError converts anything raised while executing an instruction.
func (m *Machine) machineError(err error) *MachineError {
	var me *MachineError
	if errors.As(err, &me) {
		return me
	}
	snap := m.snapshotAt(m.ipc)
	var f *fault
	if errors.As(err, &f) {
		msg := f.msg
		if err != error(f) {
			msg = err.Error()
		}
		return &MachineError{Kind: f.kind, Msg: msg, Snapshot: snap, Err: f.err}
	}
	var ee *inst.EncodingError
	if errors.As(err, &ee) {
		return &MachineError{Kind: Encoding, Msg: err.Error(), Snapshot: snap, Err: err}
	}
	return &MachineError{Kind: Native, Msg: err.Error(), Snapshot: snap, Err: err}
}

// pollInput hands a delivered line to the pending reader on the executing
// goroutine.
func (m *Machine) pollInput() {
	select {
	case line := <-m.lines:
		if fn := m.reader; fn != nil {
			m.reader = nil
			fn(line)
		}
	default:
	}
}

func (m *Machine) deliver(line string) {
	select {
	case m.lines <- line:
	default:
		log.Warningf("input line dropped, no read pending")
	}
	m.signal()
}
