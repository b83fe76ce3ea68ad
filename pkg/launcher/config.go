package launcher

import (
	"time"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// DefaultFreeDelay is how long a terminated connection's slot stays
// reserved before it goes back to the pool.
const DefaultFreeDelay = time.Millisecond

// Config holds launcher configuration
type Config struct {
	// SandboxedSlots is the capacity of the sandboxed pool
	SandboxedSlots int

	// PrivilegedSlots is the capacity of the privileged pool
	PrivilegedSlots int

	// FreeDelay postpones returning a slot after its worker terminated,
	// so the platform can finish tearing the worker down first
	FreeDelay time.Duration

	// LinkerParams is an opaque blob attached to every bind
	LinkerParams []byte
}

// DefaultConfig returns the default launcher configuration
func DefaultConfig() Config {
	return Config{
		SandboxedSlots:  6,
		PrivilegedSlots: 2,
		FreeDelay:       DefaultFreeDelay,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SandboxedSlots <= 0 {
		return ErrInvalidConfiguration("sandboxed_slots", c.SandboxedSlots, "sandboxed pool needs at least one slot")
	}
	if c.PrivilegedSlots <= 0 {
		return ErrInvalidConfiguration("privileged_slots", c.PrivilegedSlots, "privileged pool needs at least one slot")
	}
	if c.FreeDelay <= 0 {
		return ErrInvalidConfiguration("free_delay", c.FreeDelay, "free delay must be positive")
	}
	return nil
}

// Capacity returns the configured slot count of class
func (c Config) Capacity(class isolation.Class) int {
	switch class {
	case isolation.Privileged:
		return c.PrivilegedSlots
	default:
		return c.SandboxedSlots
	}
}
