// Package launcher starts and tracks worker processes in two bounded slot
// pools.
//
// Every worker occupies one slot of the pool for its isolation class.
// Sandboxed workers (renderers, utilities) run with reduced privileges;
// privileged workers (the GPU process) run with full privileges and always
// at foreground priority. The class is derived from the --type switch of
// the worker command line.
//
// # Quick Start
//
//	binder := platform.NewExecBinder()
//	l, err := launcher.New(launcher.DefaultConfig(), binder,
//	    launcher.WithStartedHandler(func(token procmgr.ClientToken, pid int) {
//	        log.Printf("request %d -> pid %d", token, pid)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Shutdown(context.Background())
//
//	go l.WarmUp(context.Background())
//
//	err = l.Start(ctx, procmgr.SpawnRequest{
//	    CommandLine: []string{"/usr/lib/worker", "--type=renderer"},
//	    ChildID:     1,
//	    Token:       42,
//	})
//
// # Slots and the pending queue
//
// A Start that finds no free slot is queued, not rejected. When a worker
// terminates its slot is freed after Config.FreeDelay and the oldest queued
// request is retried on a new goroutine. A retried request may be queued
// again if its own pool is still full.
//
// # Completion
//
// The StartedHandler is called exactly once for every request with a
// non-zero token: with the worker pid once it reported in, or with
// procmgr.NullPID if the bind failed, the worker died before reporting, or
// the launcher shut down first.
//
// # Warm spare
//
// WarmUp binds one sandboxed worker host without a request. The next
// sandboxed Start consumes it instead of binding a fresh one. The spare
// occupies a sandboxed slot while it waits.
//
// # Death
//
// The platform reports worker death on the binding's event channel. A
// connected worker is stopped through the same path as Stop; a worker that
// died before reporting its pid has its slot freed directly.
package launcher
