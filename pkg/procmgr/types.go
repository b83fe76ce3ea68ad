package procmgr

import (
	"context"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// ConnectionState represents the lifecycle state of a worker connection
type ConnectionState int

const (
	// ConnectionStateIdle - slot allocated, nothing bound yet
	ConnectionStateIdle ConnectionState = iota
	// ConnectionStateBinding - bind issued to the platform
	ConnectionStateBinding
	// ConnectionStateConnected - worker exists and reported its pid
	ConnectionStateConnected
	// ConnectionStateTerminated - stopped or died, awaiting free
	ConnectionStateTerminated
)

// String returns the string representation of a ConnectionState
func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateIdle:
		return "Idle"
	case ConnectionStateBinding:
		return "Binding"
	case ConnectionStateConnected:
		return "Connected"
	case ConnectionStateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// NullPID is the process handle of a worker that never came up.
const NullPID = 0

// ClientToken is the caller's opaque completion token. Zero means the caller
// does not want a completion.
type ClientToken uint64

// FileDescriptor is a descriptor mapped into the worker under ID.
type FileDescriptor struct {
	ID        int
	FD        uintptr
	AutoClose bool // close the parent's copy once handed to the worker
}

// SpawnRequest captures everything needed to start, or later retry, a
// worker. It is never mutated after creation.
type SpawnRequest struct {
	CommandLine      []string
	ChildID          int
	Files            []FileDescriptor
	Token            ClientToken
	ProcessType      isolation.ProcessType
	Class            isolation.Class
	AlwaysForeground bool
}

// EventType specifies the kind of platform notification
type EventType int

const (
	// EventConnected - the worker reported its pid (NullPID on failure)
	EventConnected EventType = iota
	// EventDied - the worker went away, for any reason
	EventDied
)

// String returns the string representation of an EventType
func (et EventType) String() string {
	switch et {
	case EventConnected:
		return "Connected"
	case EventDied:
		return "Died"
	default:
		return "Unknown"
	}
}

// Event is an asynchronous notification from the platform about one binding.
type Event struct {
	Type EventType
	PID  int
}

// BindSpec describes the worker host to bind for a freshly allocated slot.
type BindSpec struct {
	ConnectionID     string
	Slot             int
	Class            isolation.Class
	AlwaysForeground bool
	LinkerParams     []byte
}

// SetupParams configures a bound worker for a specific request.
type SetupParams struct {
	CommandLine  []string
	ChildID      int
	Files        []FileDescriptor
	ProcessType  isolation.ProcessType
	LinkerParams []byte
}

// Binder is the platform's process-spawn primitive.
type Binder interface {
	// Bind binds a worker host for the connection. It may block and is
	// never called with a pool lock held.
	Bind(ctx context.Context, spec BindSpec) (Binding, error)
}

// Binding is one bound worker host.
//
// Events delivers at most one EventConnected, only after Setup, and exactly
// one EventDied, after which the channel is closed. Unbind always leads to
// EventDied if it was not delivered yet.
type Binding interface {
	// Setup hands the request to the worker. It does not block; the result
	// arrives as EventConnected.
	Setup(params SetupParams)

	// Events returns the notification channel of this binding
	Events() <-chan Event

	// Unbind releases the worker host. Safe to call more than once.
	Unbind()

	// Crash kills the worker abruptly
	Crash() error
}
