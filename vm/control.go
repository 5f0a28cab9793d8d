package vm

import "github.com/chazu/pmachine/bytecode"

// control is the handle natives receive. Errors it returns are
// *MachineError values describing the faulting CSP.
type control struct {
	m *Machine
}

var _ bytecode.Control = (*control)(nil)

func (c *control) Stop()        { c.m.Stop() }
func (c *control) Suspend()     { c.m.Suspend() }
func (c *control) Resume()      { c.m.Resume() }
func (c *control) Delay(ms int) { c.m.Delay(ms) }

func (c *control) WriteLine(text string) {
	if c.m.outputCB != nil {
		c.m.outputCB(text)
	}
}

// ReadLine asks the host for a line. Without an input callback the line is
// empty and arrives before ReadLine returns.
func (c *control) ReadLine(fn func(line string)) error {
	if c.m.State() != Suspended {
		return ErrNotSuspended
	}
	c.m.reader = fn
	if c.m.inputCB == nil {
		c.m.deliver("")
		return nil
	}
	c.m.inputCB(c.m.deliver)
	return nil
}

func (c *control) ReadMemory(address int) (bytecode.Value, error) {
	return c.m.Memory(address)
}

func (c *control) WriteMemory(address int, v bytecode.Value) error {
	if err := c.m.store(address, v); err != nil {
		return c.m.machineError(err)
	}
	return nil
}

func (c *control) Push(v bytecode.Value) error {
	if err := c.m.push(v); err != nil {
		return c.m.machineError(err)
	}
	return nil
}

func (c *control) Malloc(size int) (int, error) {
	addr, err := c.m.malloc(size)
	if err != nil {
		return 0, c.m.machineError(err)
	}
	return addr, nil
}

func (c *control) Free(address int) error {
	if err := c.m.free(address); err != nil {
		return c.m.machineError(err)
	}
	return nil
}

func (c *control) KeyPressed() bool {
	return c.m.keyboard != nil && c.m.keyboard.KeyPressed()
}

func (c *control) ReadKey() int {
	if c.m.keyboard == nil {
		return 0
	}
	return c.m.keyboard.ReadKey()
}
