package output

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// PrintGate serialises physical print operations. One gate is created by
// whoever wires the printers together and handed to every printer, so at
// most one device body runs at a time regardless of device or label.
type PrintGate struct {
	sem *semaphore.Weighted
}

// NewPrintGate returns an open gate.
func NewPrintGate() *PrintGate {
	return &PrintGate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or ctx is done. Waiters are served
// in arrival order.
func (g *PrintGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for printer: %w", err)
	}
	return nil
}

// TryAcquire takes the gate only if it is free.
func (g *PrintGate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release frees the gate.
func (g *PrintGate) Release() {
	g.sem.Release(1)
}
