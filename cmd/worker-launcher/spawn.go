package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/jrepp/prism-data-layer/pkg/procmgr"
	"github.com/spf13/cobra"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <plan.yaml>",
	Short: "Start the workers of a plan and report their pids",
	Long: `Start every worker listed in a plan file, wait until each request
completed and print the pid it was given (0 for a failed start).

With --wait the command keeps running until all workers exited; otherwise the
workers are stopped once the report is printed.

Example:
  worker-launcher spawn workers.yaml
  worker-launcher spawn workers.yaml --wait --sandboxed-slots 2
`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawn,
}

func init() {
	spawnCmd.Flags().Int("sandboxed-slots", 6, "Sandboxed pool capacity")
	spawnCmd.Flags().Int("privileged-slots", 2, "Privileged pool capacity")
	spawnCmd.Flags().String("worker-host", "", "Worker host executable (default: command line argv[0])")
	spawnCmd.Flags().Duration("timeout", time.Minute, "How long to wait for every request to complete")
	spawnCmd.Flags().Bool("wait", false, "Wait for the workers to exit")
}

func runSpawn(cmd *cobra.Command, args []string) error {
	// serve binds the same keys in init
	bindFlag(cmd, "pool.sandboxed_slots", "sandboxed-slots")
	bindFlag(cmd, "pool.privileged_slots", "privileged-slots")
	bindFlag(cmd, "worker.host", "worker-host")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	plan, err := LoadPlan(args[0])
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	wait, _ := cmd.Flags().GetBool("wait")

	// A one-shot run serves no metrics and keeps no spare
	cfg.Server.MetricsPort = 0
	cfg.Launcher.WarmUp = false

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	requests := plan.Requests()
	results := newResults(len(requests))

	a, err := newApp(ctx, cfg, logger, results.record)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	startErr := a.startPlan(ctx, plan)
	if startErr != nil {
		logger.Error("plan partially rejected", "error", startErr)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := results.wait(waitCtx, countAccepted(requests, startErr)); err != nil {
		logger.Warn("not every request completed", "error", err)
	}

	results.print(cmd.OutOrStdout(), plan.Names())

	if wait {
		waitForExit(ctx, a)
	}
	return nil
}

// countAccepted is the number of requests that will complete. Start
// rejections are reported through the joined error instead.
func countAccepted(requests []procmgr.SpawnRequest, startErr error) int {
	if startErr == nil {
		return len(requests)
	}
	if joined, ok := startErr.(interface{ Unwrap() []error }); ok {
		return len(requests) - len(joined.Unwrap())
	}
	return len(requests) - 1
}

// waitForExit blocks until no worker is connected or ctx is done
func waitForExit(ctx context.Context, a *app) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for a.launcher.ConnectedCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// results collects request completions
type results struct {
	mu   sync.Mutex
	pids map[procmgr.ClientToken]int
	done chan struct{}
}

func newResults(capacity int) *results {
	return &results{
		pids: make(map[procmgr.ClientToken]int, capacity),
		done: make(chan struct{}, capacity),
	}
}

func (r *results) record(token procmgr.ClientToken, pid int) {
	r.mu.Lock()
	r.pids[token] = pid
	r.mu.Unlock()

	select {
	case r.done <- struct{}{}:
	default:
	}
}

// wait blocks until n completions arrived
func (r *results) wait(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("%d of %d requests completed: %w", i, n, ctx.Err())
		}
	}
	return nil
}

func (r *results) snapshot() map[procmgr.ClientToken]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[procmgr.ClientToken]int, len(r.pids))
	for k, v := range r.pids {
		out[k] = v
	}
	return out
}

func (r *results) print(w io.Writer, names map[procmgr.ClientToken]string) {
	pids := r.snapshot()

	tokens := make([]procmgr.ClientToken, 0, len(names))
	for token := range names {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	fmt.Fprintf(w, "%-6s %-20s %s\n", "TOKEN", "NAME", "PID")
	for _, token := range tokens {
		status := "pending"
		if pid, ok := pids[token]; ok {
			status = fmt.Sprintf("%d", pid)
		}
		fmt.Fprintf(w, "%-6d %-20s %s\n", token, names[token], status)
	}
}
