package launcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/jrepp/prism-data-layer/pkg/lifecycle"
	"github.com/jrepp/prism-data-layer/pkg/priority"
	"github.com/jrepp/prism-data-layer/pkg/procmgr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jrepp/prism-data-layer/pkg/launcher"

var errTerminatedDuringBind = errors.New("connection terminated while binding")

// Launcher starts worker processes into bounded slot pools, queues requests
// that find no free slot and retries them as slots are freed.
type Launcher struct {
	config Config
	binder procmgr.Binder

	logger    *slog.Logger
	metrics   procmgr.MetricsCollector
	tracer    trace.Tracer
	priority  PriorityManager
	publisher lifecycle.Publisher
	onStarted StartedHandler

	pools    map[isolation.Class]*procmgr.SlotPool
	queue    *procmgr.SpawnQueue
	registry *procmgr.ServiceRegistry

	spareMu sync.Mutex
	spare   *procmgr.WorkerConnection
	warming bool

	appForeground atomic.Bool

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a launcher binding workers through binder
func New(cfg Config, binder procmgr.Binder, opts ...Option) (*Launcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if binder == nil {
		return nil, ErrInvalidConfiguration("binder", nil, "a platform binder is required")
	}

	l := &Launcher{
		config:    cfg,
		binder:    binder,
		logger:    slog.Default(),
		metrics:   procmgr.NewNoopMetricsCollector(),
		tracer:    otel.Tracer(tracerName),
		priority:  priority.Noop{},
		publisher: lifecycle.NoopPublisher{},
		queue:     procmgr.NewSpawnQueue(),
		registry:  procmgr.NewServiceRegistry(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "launcher")
	l.appForeground.Store(true)

	l.pools = make(map[isolation.Class]*procmgr.SlotPool, len(isolation.Classes))
	for _, class := range isolation.Classes {
		l.pools[class] = procmgr.NewSlotPool(class, cfg.Capacity(class), l.logger)
	}

	l.logger.Info("launcher created",
		"sandboxed_slots", cfg.SandboxedSlots,
		"privileged_slots", cfg.PrivilegedSlots,
		"free_delay", cfg.FreeDelay)

	return l, nil
}

// Start launches a worker for req. The outcome arrives through the
// StartedHandler. An error is returned only for malformed requests, an
// unrecognized process type or a shut down launcher; a request that finds
// no free slot is queued and retried when one is freed.
func (l *Launcher) Start(ctx context.Context, req procmgr.SpawnRequest) error {
	if len(req.CommandLine) == 0 {
		return ErrInvalidRequest("empty command line")
	}

	profile := isolation.Classify(req.ProcessType, req.CommandLine)
	if profile.Type == isolation.ProcessTypeUnknown {
		value, _ := isolation.SwitchValue(req.CommandLine, isolation.SwitchProcessType)
		return ErrUnknownProcessType(value)
	}
	req.ProcessType = profile.Type
	req.Class = profile.Class
	req.AlwaysForeground = profile.AlwaysForeground

	if !l.track() {
		return ErrLauncherClosed()
	}
	defer l.wg.Done()

	l.metrics.SpawnRequested(req.Class, req.ProcessType)
	l.startInternal(ctx, req, false)
	return nil
}

// startInternal runs one allocation attempt for req. A retried request that
// still finds no slot goes back to the head of the queue.
func (l *Launcher) startInternal(ctx context.Context, req procmgr.SpawnRequest, retried bool) {
	ctx, span := l.tracer.Start(ctx, "launcher.Start", trace.WithAttributes(
		attribute.String("worker.class", req.Class.String()),
		attribute.String("worker.process_type", req.ProcessType.String()),
		attribute.Int("worker.child_id", req.ChildID),
		attribute.Bool("worker.retried", retried),
	))
	defer span.End()

	if req.Class == isolation.Sandboxed {
		spare := l.takeSpare()
		l.metrics.SpareConsumed(spare != nil)
		if spare != nil {
			span.SetAttributes(attribute.Int("worker.slot", spare.Slot()))
			if l.setupConnection(spare, req) {
				return
			}
			// The spare died after it was taken; bind a fresh worker
			l.logger.Debug("warm spare unusable, binding a new worker", "slot", spare.Slot())
			l.freeConnection(spare, procmgr.TerminationDied)
			if l.isClosed() {
				l.complete(req.Token, procmgr.NullPID)
				return
			}
		}
	}

	pool := l.pools[req.Class]
	conn := pool.Allocate(req.AlwaysForeground, l.config.LinkerParams)
	if conn == nil {
		l.logger.Debug("allocation of new worker failed, queuing pending spawn",
			"class", req.Class.String(), "child_id", req.ChildID, "retried", retried)
		if retried {
			l.queue.Requeue(req)
		} else {
			l.queue.Enqueue(req)
			l.metrics.SpawnQueued(req.Class)
			l.emit(lifecycle.EventQueued, nil, &req, procmgr.NullPID, "")
		}
		l.metrics.QueueDepth(l.queue.Len())
		span.AddEvent("queued")

		// Shutdown may have drained the queue before this request landed
		if l.isClosed() {
			l.failPending()
			return
		}

		// A spare stored while this request was being queued holds the
		// slot it needs
		if req.Class == isolation.Sandboxed {
			l.serveQueueFromSpare()
		}
		return
	}
	l.metrics.SlotsInUse(req.Class, pool.AllocatedCount())

	if err := l.bind(ctx, conn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bind failed")
		l.logger.Warn("failed to bind worker host",
			"class", req.Class.String(), "slot", conn.Slot(), "error", err)
		l.emit(lifecycle.EventBindFailed, conn, &req, procmgr.NullPID, err.Error())
		l.freeConnection(conn, procmgr.TerminationBindFailed)
		l.complete(req.Token, procmgr.NullPID)
		return
	}

	span.SetAttributes(attribute.Int("worker.slot", conn.Slot()))
	l.triggerConnectionSetup(conn, req)
}

// failPending completes every queued request with NullPID
func (l *Launcher) failPending() {
	for _, req := range l.queue.Drain() {
		l.complete(req.Token, procmgr.NullPID)
	}
	l.metrics.QueueDepth(0)
}

// retry runs startInternal for a dequeued request on its own goroutine
func (l *Launcher) retry(req procmgr.SpawnRequest) {
	l.logger.Debug("retrying pending spawn", "class", req.Class.String(), "child_id", req.ChildID)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.startInternal(context.Background(), req, true)
	}()
}

// bind binds the platform worker host for conn and starts its watcher
func (l *Launcher) bind(ctx context.Context, conn *procmgr.WorkerConnection) error {
	start := time.Now()
	binding, err := l.binder.Bind(ctx, procmgr.BindSpec{
		ConnectionID:     conn.ID(),
		Slot:             conn.Slot(),
		Class:            conn.Class(),
		AlwaysForeground: conn.AlwaysForeground(),
		LinkerParams:     conn.LinkerParams(),
	})
	l.metrics.BindDuration(conn.Class(), time.Since(start), err)
	if err != nil {
		return ErrBindFailed(conn.Class().String(), conn.Slot(), err)
	}

	if !conn.MarkBinding(binding) {
		binding.Unbind()
		return errTerminatedDuringBind
	}

	l.wg.Add(1)
	go l.watch(conn, binding)
	return nil
}

// triggerConnectionSetup hands req to the bound worker, failing the request
// if the connection can no longer take it
func (l *Launcher) triggerConnectionSetup(conn *procmgr.WorkerConnection, req procmgr.SpawnRequest) {
	if l.setupConnection(conn, req) {
		return
	}
	l.logger.Debug("connection unusable for setup", "slot", conn.Slot(), "state", conn.State().String())
	l.emit(lifecycle.EventBindFailed, conn, &req, procmgr.NullPID, "connection unusable")
	l.freeConnection(conn, procmgr.TerminationBindFailed)
	l.complete(req.Token, procmgr.NullPID)
}

// setupConnection attaches req to conn and starts the worker. It returns
// false without side effects when conn is terminated or already configured.
func (l *Launcher) setupConnection(conn *procmgr.WorkerConnection, req procmgr.SpawnRequest) bool {
	if l.isClosed() || !conn.Configure(req) {
		return false
	}

	l.logger.Debug("setting up connection to worker", "slot", conn.Slot(), "class", conn.Class().String())
	l.emit(lifecycle.EventStarting, conn, &req, procmgr.NullPID, "")
	conn.Binding().Setup(procmgr.SetupParams{
		CommandLine:  req.CommandLine,
		ChildID:      req.ChildID,
		Files:        req.Files,
		ProcessType:  req.ProcessType,
		LinkerParams: conn.LinkerParams(),
	})
	return true
}

// watch consumes the binding's events until it closes
func (l *Launcher) watch(conn *procmgr.WorkerConnection, binding procmgr.Binding) {
	defer l.wg.Done()
	for ev := range binding.Events() {
		switch ev.Type {
		case procmgr.EventConnected:
			l.onConnected(conn, ev.PID)
		case procmgr.EventDied:
			l.onDied(conn)
		}
	}
}

func (l *Launcher) onConnected(conn *procmgr.WorkerConnection, pid int) {
	l.logger.Debug("on connect callback", "pid", pid, "slot", conn.Slot(), "class", conn.Class().String())

	if pid != procmgr.NullPID && !l.isClosed() && conn.MarkConnected(pid) {
		l.registry.Add(pid, conn)
		l.priority.RegisterWorker(pid, conn)
		l.priority.SetPriority(pid, conn.AlwaysForeground())
		l.metrics.WorkerConnected(conn.Class(), true)
		l.metrics.RegisteredWorkers(l.registry.Len())

		req, ok := conn.ClaimRequest()
		l.emit(lifecycle.EventReady, conn, requestPtr(req, ok), pid, "")
		if ok {
			l.complete(req.Token, pid)
		}
		return
	}

	l.metrics.WorkerConnected(conn.Class(), false)
	req, ok := conn.ClaimRequest()
	if ok {
		l.emit(lifecycle.EventBindFailed, conn, &req, procmgr.NullPID, "worker did not report a pid")
	}
	l.freeConnection(conn, procmgr.TerminationBindFailed)
	if ok {
		l.complete(req.Token, procmgr.NullPID)
	}
}

func (l *Launcher) onDied(conn *procmgr.WorkerConnection) {
	if conn.State() == procmgr.ConnectionStateTerminated {
		// Stopped or freed already; this is the echo of that
		l.dropSpare(conn)
		return
	}

	pid := conn.PID()
	if pid != procmgr.NullPID && l.stopWorker(pid, procmgr.TerminationDied) {
		return
	}

	// Never connected
	terminated := conn.Terminate()
	l.dropSpare(conn)
	req, ok := conn.ClaimRequest()
	if ok {
		l.emit(lifecycle.EventBindFailed, conn, &req, procmgr.NullPID, "worker died before connecting")
		l.complete(req.Token, procmgr.NullPID)
	}
	if terminated {
		l.scheduleFree(conn, procmgr.TerminationDied)
	}
}

// Stop terminates the worker with pid. Unknown pids are ignored.
func (l *Launcher) Stop(pid int) {
	if !l.track() {
		return
	}
	defer l.wg.Done()
	l.stopWorker(pid, procmgr.TerminationStopped)
}

// stopWorker removes pid from the registry and tears its connection down.
// Only the caller that removed the entry acts on it.
func (l *Launcher) stopWorker(pid int, reason string) bool {
	l.logger.Debug("stopping worker connection", "pid", pid, "reason", reason)

	conn, ok := l.registry.Remove(pid)
	if !ok {
		if pid > 0 {
			l.logger.Warn("tried to stop non-existent connection", "pid", pid)
		}
		return false
	}
	l.metrics.RegisteredWorkers(l.registry.Len())
	l.priority.Release(pid)

	eventType := lifecycle.EventStopped
	if reason == procmgr.TerminationDied {
		eventType = lifecycle.EventCrashed
	}
	l.emit(eventType, conn, nil, pid, reason)

	l.freeConnection(conn, reason)
	return true
}

// freeConnection terminates conn, releases its platform binding and
// schedules the slot to be freed. Repeated calls are no-ops.
func (l *Launcher) freeConnection(conn *procmgr.WorkerConnection, reason string) {
	if !conn.Terminate() {
		return
	}
	if b := conn.Binding(); b != nil {
		b.Unbind()
	}
	l.scheduleFree(conn, reason)
}

// scheduleFree frees conn's slot after the free delay and then services the
// pending queue
func (l *Launcher) scheduleFree(conn *procmgr.WorkerConnection, reason string) {
	l.wg.Add(1)
	time.AfterFunc(l.config.FreeDelay, func() {
		defer l.wg.Done()
		l.release(conn, reason)
	})
}

func (l *Launcher) release(conn *procmgr.WorkerConnection, reason string) {
	pool := l.pools[conn.Class()]
	if err := pool.Free(conn); err != nil {
		l.logger.Error("failed to free worker slot", "error", err)
		l.metrics.InvariantViolation("slot_mismatch")
	} else {
		l.metrics.WorkerTerminated(conn.Class(), reason)
		l.emit(lifecycle.EventFreed, conn, nil, conn.PID(), reason)
	}
	l.metrics.SlotsInUse(conn.Class(), pool.AllocatedCount())

	// Only a waiter of the freed slot's class can use it
	req, ok := l.queue.DequeueClass(conn.Class())
	if !ok {
		return
	}
	l.metrics.QueueDepth(l.queue.Len())

	if l.isClosed() {
		l.complete(req.Token, procmgr.NullPID)
		return
	}
	l.retry(req)
}

// SetInForeground forwards a worker visibility change to the priority manager
func (l *Launcher) SetInForeground(pid int, inForeground bool) {
	l.priority.SetPriority(pid, inForeground)
}

// DeterminedVisibility tells the priority manager the embedder settled pid's
// visibility
func (l *Launcher) DeterminedVisibility(pid int) {
	l.priority.DeterminedVisibility(pid)
}

// OnSentToBackground records that the application left the foreground
func (l *Launcher) OnSentToBackground() {
	l.appForeground.Store(false)
	l.priority.OnSentToBackground()
}

// OnBroughtToForeground records that the application returned to the foreground
func (l *Launcher) OnBroughtToForeground() {
	l.appForeground.Store(true)
	l.priority.OnBroughtToForeground()
}

// IsApplicationInForeground reports the last application signal
func (l *Launcher) IsApplicationInForeground() bool {
	return l.appForeground.Load()
}

// CrashWorker kills the worker with pid abruptly. The death is handled like
// any other. Unknown pids yield an UNKNOWN_WORKER error.
func (l *Launcher) CrashWorker(pid int) error {
	conn, ok := l.registry.Get(pid)
	if !ok {
		return ErrUnknownWorker(pid)
	}
	b := conn.Binding()
	if b == nil {
		return ErrUnknownWorker(pid)
	}
	if err := b.Crash(); err != nil {
		l.logger.Warn("failed to crash worker", "pid", pid, "error", err)
		return NewError(ErrorCodeInternalError, "Failed to crash worker").
			WithContext("pid", pid).
			WithCause(err)
	}
	return nil
}

// AllocatedCount returns the number of occupied slots of class
func (l *Launcher) AllocatedCount(class isolation.Class) int {
	pool, ok := l.pools[class]
	if !ok {
		return 0
	}
	return pool.AllocatedCount()
}

// PendingCount returns the number of queued spawn requests
func (l *Launcher) PendingCount() int {
	return l.queue.Len()
}

// ConnectedCount returns the number of registered workers
func (l *Launcher) ConnectedCount() int {
	return l.registry.Len()
}

// ConnectedPIDs returns the registered worker pids in ascending order
func (l *Launcher) ConnectedPIDs() []int {
	return l.registry.PIDs()
}

// PoolStatus describes one slot pool
type PoolStatus struct {
	Capacity  int `json:"capacity"`
	Allocated int `json:"allocated"`
}

// HealthStatus is a snapshot of the launcher
type HealthStatus struct {
	Healthy    bool                  `json:"healthy"`
	Closed     bool                  `json:"closed"`
	Pools      map[string]PoolStatus `json:"pools"`
	Pending    int                   `json:"pending"`
	Connected  int                   `json:"connected"`
	SpareReady bool                  `json:"spare_ready"`
}

// Health returns a snapshot of the launcher state
func (l *Launcher) Health() HealthStatus {
	status := HealthStatus{
		Closed:    l.isClosed(),
		Pools:     make(map[string]PoolStatus, len(l.pools)),
		Pending:   l.queue.Len(),
		Connected: l.registry.Len(),
	}
	status.Healthy = !status.Closed
	for class, pool := range l.pools {
		status.Pools[class.String()] = PoolStatus{
			Capacity:  pool.Capacity(),
			Allocated: pool.AllocatedCount(),
		}
	}

	l.spareMu.Lock()
	status.SpareReady = l.spare != nil
	l.spareMu.Unlock()

	return status
}

// Shutdown stops every worker, fails queued requests and waits for pending
// frees and retries to finish or ctx to expire.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.logger.Info("shutting down launcher", "connected", l.registry.Len(), "pending", l.queue.Len())

	if spare := l.takeSpare(); spare != nil {
		l.freeConnection(spare, procmgr.TerminationShutdown)
	}

	for _, pid := range l.registry.PIDs() {
		l.stopWorker(pid, procmgr.TerminationShutdown)
	}

	for _, class := range isolation.Classes {
		for _, conn := range l.pools[class].Connections() {
			if req, ok := conn.ClaimRequest(); ok {
				l.complete(req.Token, procmgr.NullPID)
			}
			l.freeConnection(conn, procmgr.TerminationShutdown)
		}
	}

	l.failPending()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("launcher shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers an in-flight operation unless the launcher is closed
func (l *Launcher) track() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.wg.Add(1)
	return true
}

func (l *Launcher) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func (l *Launcher) complete(token procmgr.ClientToken, pid int) {
	if token == 0 || l.onStarted == nil {
		return
	}
	l.onStarted(token, pid)
}

func (l *Launcher) emit(eventType lifecycle.EventType, conn *procmgr.WorkerConnection, req *procmgr.SpawnRequest, pid int, message string) {
	event := lifecycle.NewEvent(eventType, "", -1)
	event.PID = pid
	event.Message = message
	if conn != nil {
		event.ConnectionID = conn.ID()
		event.Class = conn.Class().String()
		event.Slot = conn.Slot()
	}
	if req != nil {
		event.Class = req.Class.String()
		event.ProcessType = req.ProcessType.String()
		event.ChildID = req.ChildID
	}

	if err := l.publisher.Publish(context.Background(), event); err != nil {
		l.logger.Warn("failed to publish lifecycle event", "type", string(eventType), "error", err)
	}
}

func requestPtr(req procmgr.SpawnRequest, ok bool) *procmgr.SpawnRequest {
	if !ok {
		return nil
	}
	return &req
}
