package procmgr

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// WorkerConnection is the in-process handle of one worker occupying a pool
// slot. It is owned by its slot; everything else holds plain references and
// finds it by pid.
type WorkerConnection struct {
	id               string
	slot             int
	class            isolation.Class
	alwaysForeground bool
	linkerParams     []byte

	mu      sync.Mutex
	state   ConnectionState
	pid     int
	binding Binding

	// Request served by this connection. A warm spare has none until it is
	// consumed; cleared once its completion has been claimed.
	request    *SpawnRequest
	configured bool
}

func newWorkerConnection(slot int, class isolation.Class, alwaysForeground bool, linkerParams []byte) *WorkerConnection {
	return &WorkerConnection{
		id:               uuid.NewString(),
		slot:             slot,
		class:            class,
		alwaysForeground: alwaysForeground,
		linkerParams:     linkerParams,
		state:            ConnectionStateIdle,
	}
}

// ID returns a unique identifier for logs and events
func (c *WorkerConnection) ID() string { return c.id }

// Slot returns the pool slot index
func (c *WorkerConnection) Slot() int { return c.slot }

// Class returns the isolation class
func (c *WorkerConnection) Class() isolation.Class { return c.class }

// AlwaysForeground reports whether the worker always runs at elevated priority
func (c *WorkerConnection) AlwaysForeground() bool { return c.alwaysForeground }

// LinkerParams returns the opaque linker blob attached to the bind
func (c *WorkerConnection) LinkerParams() []byte { return c.linkerParams }

// State returns the current lifecycle state
func (c *WorkerConnection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PID returns the worker pid, or NullPID until it reported in
func (c *WorkerConnection) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Binding returns the platform binding, nil before MarkBinding
func (c *WorkerConnection) Binding() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

// MarkBinding moves Idle -> Binding and records the platform binding.
func (c *WorkerConnection) MarkBinding(b Binding) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConnectionStateIdle || b == nil {
		return false
	}
	c.state = ConnectionStateBinding
	c.binding = b
	return true
}

// MarkConnected moves Binding -> Connected with a valid pid.
func (c *WorkerConnection) MarkConnected(pid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ConnectionStateBinding || pid == NullPID {
		return false
	}
	c.state = ConnectionStateConnected
	c.pid = pid
	return true
}

// Terminate moves any live state to Terminated. It returns true only for the
// call that performed the transition.
func (c *WorkerConnection) Terminate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnectionStateTerminated {
		return false
	}
	c.state = ConnectionStateTerminated
	return true
}

// Configure attaches the request this connection serves. A connection is
// configured once; a terminated one cannot be.
func (c *WorkerConnection) Configure(req SpawnRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.configured || c.state == ConnectionStateTerminated {
		return false
	}
	c.configured = true
	c.request = &req
	return true
}

// Configured reports whether a request was attached
func (c *WorkerConnection) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configured
}

// ClaimRequest hands out the attached request exactly once, so the caller's
// completion fires once no matter which path reports the outcome.
func (c *WorkerConnection) ClaimRequest() (SpawnRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request == nil {
		return SpawnRequest{}, false
	}
	req := *c.request
	c.request = nil
	return req, true
}
