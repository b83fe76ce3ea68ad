package procmgr

import (
	"fmt"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
)

// SlotMismatchError reports a free for a connection that does not occupy the
// slot it claims. It means a double free or lost ownership, never a
// transient condition.
type SlotMismatchError struct {
	Class        isolation.Class
	Slot         int
	ConnectionID string
	OccupantID   string // empty when the slot was already free
}

func (e *SlotMismatchError) Error() string {
	occupant := e.OccupantID
	if occupant == "" {
		occupant = "<free>"
	}
	return fmt.Sprintf("%s pool: connection %s not found in slot %d (occupied by %s)",
		e.Class, e.ConnectionID, e.Slot, occupant)
}
