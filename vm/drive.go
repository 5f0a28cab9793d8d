package vm

import (
	"context"
	"time"
)

// Drive steps a running machine in batches until it stops. It sleeps
// through pending delays and waits for Resume while suspended. Cancelling
// ctx stops the machine. The returned error is the runtime fault that
// stopped the program, or the context error.
func (m *Machine) Drive(ctx context.Context, batch int) error {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for {
		if err := ctx.Err(); err != nil {
			m.Stop()
			return err
		}
		m.pollInput()

		switch m.State() {
		case Stopped:
			return m.Err()
		case Suspended:
			select {
			case <-m.wake:
			case <-ctx.Done():
				m.Stop()
				return ctx.Err()
			}
			continue
		}

		if d := m.PendingDelay(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-m.wake:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				m.Stop()
				return ctx.Err()
			}
			continue
		}

		m.Step(batch)
	}
}
