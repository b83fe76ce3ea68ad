package fakeplatform

import (
	"context"
	"errors"
	"sync"

	"github.com/jrepp/prism-data-layer/pkg/procmgr"
)

// ErrBindRefused is returned by Bind while scripted bind failures remain
var ErrBindRefused = errors.New("fake platform: bind refused")

// Binder is a scripted in-memory platform for launcher tests.
// Binds succeed instantly; workers connect on Setup with the next scripted
// pid unless auto-connect is disabled, in which case tests drive
// Connect/Die by hand.
type Binder struct {
	mu          sync.Mutex
	pids        []int
	nextPID     int
	autoConnect bool
	failBinds   int
	bindings    []*Binding
	hold        chan struct{}
	held        int
}

// Option configures a Binder
type Option func(*Binder)

// WithPIDs scripts the pids handed out on connect, in order. After they are
// used up pids continue from 1000.
func WithPIDs(pids ...int) Option {
	return func(b *Binder) {
		b.pids = append(b.pids, pids...)
	}
}

// WithAutoConnect controls whether Setup connects the worker immediately
func WithAutoConnect(enabled bool) Option {
	return func(b *Binder) {
		b.autoConnect = enabled
	}
}

// WithBindFailures makes the next n binds fail
func WithBindFailures(n int) Option {
	return func(b *Binder) {
		b.failBinds = n
	}
}

// NewBinder creates a fake platform
func NewBinder(opts ...Option) *Binder {
	b := &Binder{
		nextPID:     1000,
		autoConnect: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind implements procmgr.Binder
func (b *Binder) Bind(ctx context.Context, spec procmgr.BindSpec) (procmgr.Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.waitHold(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failBinds > 0 {
		b.failBinds--
		return nil, ErrBindRefused
	}

	binding := &Binding{
		binder: b,
		spec:   spec,
		events: make(chan procmgr.Event, 2),
	}
	b.bindings = append(b.bindings, binding)
	return binding, nil
}

// HoldBinds blocks every subsequent Bind until the returned release func is
// called. Release is safe to call more than once.
func (b *Binder) HoldBinds() (release func()) {
	hold := make(chan struct{})
	b.mu.Lock()
	b.hold = hold
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.hold == hold {
				b.hold = nil
			}
			b.mu.Unlock()
			close(hold)
		})
	}
}

// HeldCount returns the number of binds blocked by HoldBinds
func (b *Binder) HeldCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held
}

func (b *Binder) waitHold(ctx context.Context) error {
	b.mu.Lock()
	hold := b.hold
	if hold == nil {
		b.mu.Unlock()
		return nil
	}
	b.held++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.held--
		b.mu.Unlock()
	}()
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailNextBinds makes the next n binds fail
func (b *Binder) FailNextBinds(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failBinds = n
}

// SetAutoConnect toggles auto-connect for subsequent setups
func (b *Binder) SetAutoConnect(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoConnect = enabled
}

// BindCount returns the number of successful binds so far
func (b *Binder) BindCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

// Bindings returns every successful binding in bind order
func (b *Binder) Bindings() []*Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Binding, len(b.bindings))
	copy(out, b.bindings)
	return out
}

// Binding returns the i-th successful binding, or nil
func (b *Binder) Binding(i int) *Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.bindings) {
		return nil
	}
	return b.bindings[i]
}

// ByPID finds the binding that connected with pid
func (b *Binder) ByPID(pid int) *Binding {
	b.mu.Lock()
	bindings := make([]*Binding, len(b.bindings))
	copy(bindings, b.bindings)
	b.mu.Unlock()

	for _, binding := range bindings {
		if binding.PID() == pid {
			return binding
		}
	}
	return nil
}

// LiveCount returns the bindings that have not died yet
func (b *Binder) LiveCount() int {
	live := 0
	for _, binding := range b.Bindings() {
		if !binding.Dead() {
			live++
		}
	}
	return live
}

func (b *Binder) takePID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pids) > 0 {
		pid := b.pids[0]
		b.pids = b.pids[1:]
		return pid
	}
	pid := b.nextPID
	b.nextPID++
	return pid
}

func (b *Binder) shouldAutoConnect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoConnect
}

// Binding is one fake worker host
type Binding struct {
	binder *Binder
	spec   procmgr.BindSpec
	events chan procmgr.Event

	mu        sync.Mutex
	setup     *procmgr.SetupParams
	pid       int
	connected bool
	dead      bool
	unbound   bool
	crashed   bool
}

// Spec returns the bind spec
func (b *Binding) Spec() procmgr.BindSpec { return b.spec }

// Setup implements procmgr.Binding
func (b *Binding) Setup(params procmgr.SetupParams) {
	b.mu.Lock()
	b.setup = &params
	b.mu.Unlock()

	if b.binder.shouldAutoConnect() {
		b.Connect(b.binder.takePID())
	}
}

// SetupParams returns the recorded setup, or nil when Setup was not called
func (b *Binding) SetupParams() *procmgr.SetupParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setup
}

// Events implements procmgr.Binding
func (b *Binding) Events() <-chan procmgr.Event { return b.events }

// Connect reports the worker pid. A pid of procmgr.NullPID simulates a
// failed setup. Ignored after the first connect or after death.
func (b *Binding) Connect(pid int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected || b.dead {
		return false
	}
	b.connected = true
	b.pid = pid
	b.events <- procmgr.Event{Type: procmgr.EventConnected, PID: pid}
	return true
}

// ConnectNext connects with the next scripted pid
func (b *Binding) ConnectNext() int {
	pid := b.binder.takePID()
	if !b.Connect(pid) {
		return procmgr.NullPID
	}
	return pid
}

// Die reports the worker gone and closes the event channel
func (b *Binding) Die() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return false
	}
	b.dead = true
	b.events <- procmgr.Event{Type: procmgr.EventDied, PID: b.pid}
	close(b.events)
	return true
}

// Unbind implements procmgr.Binding
func (b *Binding) Unbind() {
	b.mu.Lock()
	b.unbound = true
	b.mu.Unlock()
	b.Die()
}

// Crash implements procmgr.Binding
func (b *Binding) Crash() error {
	b.mu.Lock()
	b.crashed = true
	b.mu.Unlock()
	b.Die()
	return nil
}

// PID returns the connected pid
func (b *Binding) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pid
}

// Dead reports whether Died was delivered
func (b *Binding) Dead() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dead
}

// Unbound reports whether the launcher released this binding
func (b *Binding) Unbound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unbound
}

// Crashed reports whether Crash was called
func (b *Binding) Crashed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.crashed
}

var _ procmgr.Binder = (*Binder)(nil)
var _ procmgr.Binding = (*Binding)(nil)
