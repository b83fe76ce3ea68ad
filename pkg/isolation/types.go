package isolation

import (
	"fmt"
	"strings"
)

// Class defines the trust level a worker process runs under.
// Every class owns an independent slot pool.
type Class int

const (
	// Sandboxed workers run restricted. Renderers and utility workers use it.
	Sandboxed Class = iota
	// Privileged workers run with fewer restrictions (GPU).
	Privileged
)

// Classes lists every isolation class in pool order.
var Classes = []Class{Sandboxed, Privileged}

// Default is the class used for warm spares and unclassified work.
const Default = Sandboxed

// String returns the string representation of the isolation class
func (c Class) String() string {
	switch c {
	case Sandboxed:
		return "sandboxed"
	case Privileged:
		return "privileged"
	default:
		return "unknown"
	}
}

// Valid reports whether c names a known class.
func (c Class) Valid() bool {
	return c == Sandboxed || c == Privileged
}

// ParseClass parses the textual form produced by String.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sandboxed", "sandbox":
		return Sandboxed, nil
	case "privileged":
		return Privileged, nil
	default:
		return Sandboxed, fmt.Errorf("unknown isolation class %q", s)
	}
}

// ProcessType is the callback classification of a worker. It decides which
// requests the worker may make back into the browser and how it is isolated.
type ProcessType int

const (
	// ProcessTypeUnknown is never launched.
	ProcessTypeUnknown ProcessType = iota
	// ProcessTypeGPU is the GPU worker.
	ProcessTypeGPU
	// ProcessTypeRenderer is a renderer worker.
	ProcessTypeRenderer
	// ProcessTypeUtility is a utility worker.
	ProcessTypeUtility
)

// String returns the string representation of a ProcessType
func (pt ProcessType) String() string {
	switch pt {
	case ProcessTypeGPU:
		return "gpu"
	case ProcessTypeRenderer:
		return "renderer"
	case ProcessTypeUtility:
		return "utility"
	default:
		return "unknown"
	}
}

// ParseProcessType parses a process type name. The empty string yields
// ProcessTypeUnknown so the type is taken from the command line instead.
func ParseProcessType(s string) (ProcessType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ProcessTypeUnknown, nil
	case "gpu", SwitchValueGPU:
		return ProcessTypeGPU, nil
	case "renderer":
		return ProcessTypeRenderer, nil
	case "utility":
		return ProcessTypeUtility, nil
	default:
		return ProcessTypeUnknown, fmt.Errorf("unknown process type %q", s)
	}
}

// Profile is the launch policy derived from a process type.
type Profile struct {
	Type             ProcessType
	Class            Class
	AlwaysForeground bool
}
