// Package platform binds worker hosts as real OS processes.
package platform

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/procmgr"
)

// Environment variables passed to every worker
const (
	EnvFDMap        = "WORKER_FD_MAP"
	EnvIsolation    = "WORKER_ISOLATION"
	EnvChildID      = "WORKER_CHILD_ID"
	EnvProcessType  = "WORKER_PROCESS_TYPE"
	EnvLinkerParams = "WORKER_LINKER_PARAMS"
	EnvSlot         = "WORKER_SLOT"
)

// firstExtraFD is the descriptor number of the first entry in ExtraFiles
const firstExtraFD = 3

// ErrNoExecutable is returned when neither a host path nor argv[0] is available
var ErrNoExecutable = errors.New("no worker executable")

// ExecBinder starts each worker as a child process.
type ExecBinder struct {
	hostPath    string
	env         map[string]string
	gracePeriod time.Duration
	stdout      io.Writer
	stderr      io.Writer
	logger      *slog.Logger
}

// ExecOption configures an ExecBinder
type ExecOption func(*ExecBinder)

// WithHostPath runs every worker through the given executable; the command
// line is passed as its arguments. Without it argv[0] is the executable.
func WithHostPath(path string) ExecOption {
	return func(b *ExecBinder) {
		b.hostPath = path
	}
}

// WithEnv adds environment variables to every worker
func WithEnv(env map[string]string) ExecOption {
	return func(b *ExecBinder) {
		for k, v := range env {
			b.env[k] = v
		}
	}
}

// WithGracePeriod sets how long Unbind waits after SIGTERM before SIGKILL.
// Non-positive values keep the default.
func WithGracePeriod(d time.Duration) ExecOption {
	return func(b *ExecBinder) {
		if d > 0 {
			b.gracePeriod = d
		}
	}
}

// WithOutput redirects worker stdout and stderr
func WithOutput(stdout, stderr io.Writer) ExecOption {
	return func(b *ExecBinder) {
		b.stdout = stdout
		b.stderr = stderr
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ExecOption {
	return func(b *ExecBinder) {
		b.logger = logger
	}
}

// NewExecBinder creates a binder for OS processes
func NewExecBinder(opts ...ExecOption) *ExecBinder {
	b := &ExecBinder{
		env:         make(map[string]string),
		gracePeriod: 5 * time.Second,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "exec_binder")
	return b
}

// Bind reserves a worker host. Nothing is started until Setup, so a warm
// spare costs no process.
func (b *ExecBinder) Bind(ctx context.Context, spec procmgr.BindSpec) (procmgr.Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hostPath := ""
	if b.hostPath != "" {
		resolved, err := exec.LookPath(b.hostPath)
		if err != nil {
			return nil, fmt.Errorf("resolve worker host %q: %w", b.hostPath, err)
		}
		hostPath = resolved
	}

	return &execBinding{
		binder:   b,
		spec:     spec,
		hostPath: hostPath,
		events:   make(chan procmgr.Event, 2),
		logger:   b.logger.With("connection_id", spec.ConnectionID, "slot", spec.Slot, "class", spec.Class.String()),
	}, nil
}

type execBinding struct {
	binder   *ExecBinder
	spec     procmgr.BindSpec
	hostPath string
	events   chan procmgr.Event
	logger   *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	dead    bool
	exited  chan struct{}
}

func (e *execBinding) Events() <-chan procmgr.Event { return e.events }

// Setup starts the process. The outcome is reported on the event channel.
func (e *execBinding) Setup(params procmgr.SetupParams) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.dead {
		return
	}
	e.started = true

	cmd, err := e.buildCommand(params)
	if err == nil {
		err = cmd.Start()
		// The child holds its own copies now
		for _, f := range cmd.ExtraFiles {
			f.Close()
		}
	}
	closeAutoClose(params.Files)

	if err != nil {
		e.logger.Warn("failed to start worker", "child_id", params.ChildID, "error", err)
		e.events <- procmgr.Event{Type: procmgr.EventConnected, PID: procmgr.NullPID}
		e.dieLocked(procmgr.NullPID)
		return
	}

	e.cmd = cmd
	e.exited = make(chan struct{})
	pid := cmd.Process.Pid
	e.logger.Info("worker started", "pid", pid, "child_id", params.ChildID, "process_type", params.ProcessType.String())
	e.events <- procmgr.Event{Type: procmgr.EventConnected, PID: pid}

	go e.wait(cmd, pid)
}

func (e *execBinding) buildCommand(params procmgr.SetupParams) (*exec.Cmd, error) {
	path := e.hostPath
	args := params.CommandLine
	if path == "" {
		if len(args) == 0 {
			return nil, ErrNoExecutable
		}
		path, args = args[0], args[1:]
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = e.binder.stdout
	cmd.Stderr = e.binder.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	fdMap := make([]string, 0, len(params.Files))
	for i, fd := range params.Files {
		dup, err := syscall.Dup(int(fd.FD))
		if err != nil {
			for _, f := range cmd.ExtraFiles {
				f.Close()
			}
			return nil, fmt.Errorf("dup fd %d: %w", fd.ID, err)
		}
		cmd.ExtraFiles = append(cmd.ExtraFiles, os.NewFile(uintptr(dup), fmt.Sprintf("worker-fd-%d", fd.ID)))
		fdMap = append(fdMap, fmt.Sprintf("%d:%d", fd.ID, firstExtraFD+i))
	}

	env := os.Environ()
	env = append(env,
		fmt.Sprintf("%s=%s", EnvFDMap, strings.Join(fdMap, ",")),
		fmt.Sprintf("%s=%s", EnvIsolation, e.spec.Class.String()),
		fmt.Sprintf("%s=%s", EnvChildID, strconv.Itoa(params.ChildID)),
		fmt.Sprintf("%s=%s", EnvProcessType, params.ProcessType.String()),
		fmt.Sprintf("%s=%d", EnvSlot, e.spec.Slot),
	)
	if len(params.LinkerParams) > 0 {
		env = append(env, fmt.Sprintf("%s=%s", EnvLinkerParams, base64.StdEncoding.EncodeToString(params.LinkerParams)))
	}
	for k, v := range e.binder.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return cmd, nil
}

func (e *execBinding) wait(cmd *exec.Cmd, pid int) {
	err := cmd.Wait()
	e.logger.Info("worker exited", "pid", pid, "error", err)

	e.mu.Lock()
	close(e.exited)
	e.dieLocked(pid)
	e.mu.Unlock()
}

// dieLocked delivers Died once and closes the channel. Caller holds e.mu.
func (e *execBinding) dieLocked(pid int) {
	if e.dead {
		return
	}
	e.dead = true
	e.events <- procmgr.Event{Type: procmgr.EventDied, PID: pid}
	close(e.events)
}

// Unbind terminates the process, escalating to SIGKILL after the grace
// period. A binding that never started dies immediately.
func (e *execBinding) Unbind() {
	e.mu.Lock()
	cmd, exited := e.cmd, e.exited
	if cmd == nil {
		e.started = true
		e.dieLocked(procmgr.NullPID)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		e.logger.Debug("SIGTERM failed", "pid", cmd.Process.Pid, "error", err)
		return
	}

	go func() {
		select {
		case <-exited:
		case <-time.After(e.binder.gracePeriod):
			e.logger.Warn("worker did not exit within grace period, force killing", "pid", cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				e.logger.Error("force kill failed", "pid", cmd.Process.Pid, "error", err)
			}
		}
	}()
}

// Crash kills the process without warning
func (e *execBinding) Crash() error {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()

	if cmd == nil {
		return fmt.Errorf("worker not started")
	}
	if err := cmd.Process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill pid %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

func closeAutoClose(files []procmgr.FileDescriptor) {
	for _, fd := range files {
		if fd.AutoClose {
			syscall.Close(int(fd.FD))
		}
	}
}

var _ procmgr.Binder = (*ExecBinder)(nil)
