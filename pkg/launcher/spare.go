package launcher

import (
	"context"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/jrepp/prism-data-layer/pkg/procmgr"
)

// WarmUp binds one sandboxed worker host ahead of demand so the next
// sandboxed Start skips the bind. It blocks for the duration of the bind;
// callers usually run it on its own goroutine. Calling it while a spare
// exists or is being bound does nothing.
func (l *Launcher) WarmUp(ctx context.Context) error {
	if !l.track() {
		return ErrLauncherClosed()
	}
	defer l.wg.Done()

	l.spareMu.Lock()
	if l.spare != nil || l.warming {
		l.spareMu.Unlock()
		return nil
	}
	l.warming = true
	l.spareMu.Unlock()

	pool := l.pools[isolation.Sandboxed]
	conn := pool.Allocate(false, l.config.LinkerParams)
	if conn == nil {
		l.setWarming(false)
		l.logger.Debug("no free sandboxed slot for a warm spare")
		return nil
	}
	l.metrics.SlotsInUse(isolation.Sandboxed, pool.AllocatedCount())

	if err := l.bind(ctx, conn); err != nil {
		l.setWarming(false)
		l.freeConnection(conn, procmgr.TerminationBindFailed)
		return err
	}

	l.spareMu.Lock()
	l.warming = false
	// The spare may have died or the launcher shut down while binding
	keep := conn.State() != procmgr.ConnectionStateTerminated && !l.isClosed()
	var (
		pending procmgr.SpawnRequest
		handOff bool
	)
	if keep {
		// A sandboxed start that ran during the bind found the slot taken
		pending, handOff = l.queue.DequeueClass(isolation.Sandboxed)
		if !handOff {
			l.spare = conn
		}
	}
	l.spareMu.Unlock()

	if !keep {
		l.freeConnection(conn, procmgr.TerminationShutdown)
		return nil
	}
	if handOff {
		l.metrics.QueueDepth(l.queue.Len())
		l.metrics.SpareConsumed(true)
		l.logger.Debug("warm spare handed to pending spawn", "slot", conn.Slot(), "child_id", pending.ChildID)
		l.serveWithSpare(conn, pending)
		return nil
	}

	l.logger.Debug("warm spare ready", "slot", conn.Slot())
	return nil
}

// serveQueueFromSpare gives the spare to the oldest queued sandboxed
// request, if both exist
func (l *Launcher) serveQueueFromSpare() {
	l.spareMu.Lock()
	conn := l.spare
	if conn == nil || conn.State() == procmgr.ConnectionStateTerminated {
		l.spareMu.Unlock()
		return
	}
	req, ok := l.queue.DequeueClass(isolation.Sandboxed)
	if ok {
		l.spare = nil
	}
	l.spareMu.Unlock()

	if !ok {
		return
	}
	l.metrics.QueueDepth(l.queue.Len())
	l.metrics.SpareConsumed(true)
	l.serveWithSpare(conn, req)
}

// serveWithSpare sets up a dequeued request on the spare, falling back to a
// fresh allocation when the spare died in between
func (l *Launcher) serveWithSpare(conn *procmgr.WorkerConnection, req procmgr.SpawnRequest) {
	if l.setupConnection(conn, req) {
		return
	}
	l.freeConnection(conn, procmgr.TerminationDied)
	if l.isClosed() {
		l.complete(req.Token, procmgr.NullPID)
		return
	}
	l.retry(req)
}

// takeSpare consumes the warm spare, if any
func (l *Launcher) takeSpare() *procmgr.WorkerConnection {
	l.spareMu.Lock()
	defer l.spareMu.Unlock()

	conn := l.spare
	l.spare = nil
	if conn != nil && conn.State() == procmgr.ConnectionStateTerminated {
		return nil
	}
	return conn
}

// dropSpare forgets conn if it is the current spare
func (l *Launcher) dropSpare(conn *procmgr.WorkerConnection) {
	l.spareMu.Lock()
	defer l.spareMu.Unlock()
	if l.spare == conn {
		l.spare = nil
	}
}

func (l *Launcher) setWarming(warming bool) {
	l.spareMu.Lock()
	l.warming = warming
	l.spareMu.Unlock()
}
