package procmgr

import (
	"sort"
	"sync"
)

// ServiceRegistry maps the pid of every connected worker to its connection.
type ServiceRegistry struct {
	mu    sync.RWMutex
	byPID map[int]*WorkerConnection
}

// NewServiceRegistry creates an empty registry
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		byPID: make(map[int]*WorkerConnection),
	}
}

// Add registers conn under pid. NullPID is never registered.
func (r *ServiceRegistry) Add(pid int, conn *WorkerConnection) bool {
	if pid == NullPID || conn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPID[pid] = conn
	return true
}

// Remove unregisters pid. Only one of several concurrent callers gets ok.
func (r *ServiceRegistry) Remove(pid int) (*WorkerConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byPID[pid]
	if ok {
		delete(r.byPID, pid)
	}
	return conn, ok
}

// Get looks up pid
func (r *ServiceRegistry) Get(pid int) (*WorkerConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byPID[pid]
	return conn, ok
}

// Len returns the number of registered workers
func (r *ServiceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPID)
}

// PIDs returns the registered pids in ascending order
func (r *ServiceRegistry) PIDs() []int {
	r.mu.RLock()
	pids := make([]int, 0, len(r.byPID))
	for pid := range r.byPID {
		pids = append(pids, pid)
	}
	r.mu.RUnlock()

	sort.Ints(pids)
	return pids
}
