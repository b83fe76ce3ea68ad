package procmgr

import (
	"container/heap"
	"log/slog"
	"sync"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// SlotPool is a fixed-capacity set of worker slots for one isolation class.
// A slot index is either in the free list or holds exactly one connection.
type SlotPool struct {
	class  isolation.Class
	logger *slog.Logger

	mu    sync.Mutex
	slots []*WorkerConnection
	free  *freeSlotHeap
}

// freeSlotHeap implements heap.Interface so the lowest free index is always
// handed out first
type freeSlotHeap []int

func (h freeSlotHeap) Len() int           { return len(h) }
func (h freeSlotHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h freeSlotHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *freeSlotHeap) Push(x interface{}) {
	*h = append(*h, x.(int))
}

func (h *freeSlotHeap) Pop() interface{} {
	old := *h
	n := len(old)
	slot := old[n-1]
	*h = old[0 : n-1]
	return slot
}

// NewSlotPool creates a pool with capacity slots, all free
func NewSlotPool(class isolation.Class, capacity int, logger *slog.Logger) *SlotPool {
	if capacity < 0 {
		capacity = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	free := make(freeSlotHeap, capacity)
	for i := range free {
		free[i] = i
	}
	heap.Init(&free)

	return &SlotPool{
		class:  class,
		logger: logger.With("component", "slot_pool", "class", class.String()),
		slots:  make([]*WorkerConnection, capacity),
		free:   &free,
	}
}

// Class returns the isolation class served by the pool
func (p *SlotPool) Class() isolation.Class {
	return p.class
}

// Capacity returns the number of slots
func (p *SlotPool) Capacity() int {
	return len(p.slots)
}

// Allocate takes the lowest free slot and creates a connection bound to it.
// It returns nil when the pool is exhausted; that is the signal to queue.
func (p *SlotPool) Allocate(alwaysForeground bool, linkerParams []byte) *WorkerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free.Len() == 0 {
		p.logger.Debug("ran out of slots to allocate")
		return nil
	}

	slot := heap.Pop(p.free).(int)
	conn := newWorkerConnection(slot, p.class, alwaysForeground, linkerParams)
	p.slots[slot] = conn

	p.logger.Debug("allocated connection", "slot", slot, "connection_id", conn.ID())
	return conn
}

// Free returns conn's slot to the pool. If the slot does not hold conn the
// pool is left untouched and a *SlotMismatchError is returned.
func (p *SlotPool) Free(conn *WorkerConnection) error {
	if conn == nil {
		return &SlotMismatchError{Class: p.class, Slot: -1}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot := conn.Slot()
	if conn.Class() != p.class || slot < 0 || slot >= len(p.slots) || p.slots[slot] != conn {
		err := &SlotMismatchError{
			Class:        p.class,
			Slot:         slot,
			ConnectionID: conn.ID(),
		}
		if slot >= 0 && slot < len(p.slots) && p.slots[slot] != nil {
			err.OccupantID = p.slots[slot].ID()
		}
		return err
	}

	p.slots[slot] = nil
	heap.Push(p.free, slot)

	p.logger.Debug("freed connection", "slot", slot, "connection_id", conn.ID())
	return nil
}

// AllocatedCount returns capacity minus the number of free slots
func (p *SlotPool) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - p.free.Len()
}

// Connections returns a snapshot of the live connections in slot order
func (p *SlotPool) Connections() []*WorkerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*WorkerConnection, 0, len(p.slots)-p.free.Len())
	for _, conn := range p.slots {
		if conn != nil {
			out = append(out, conn)
		}
	}
	return out
}
