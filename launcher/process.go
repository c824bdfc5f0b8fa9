package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/logging"
	"github.com/hyperspot/e2e-harness/types"
)

// ProcessLauncher runs the built server binary as a local child process bound
// to the reserved e2e port.
type ProcessLauncher struct {
	cfg ProcessConfig
	log *zap.SugaredLogger

	mu      sync.Mutex
	cmd     *exec.Cmd
	waitCh  chan struct{}
	waitErr error
	stopped bool
}

// ProcessConfig holds configuration for the local process backend.
type ProcessConfig struct {
	// BinaryPath is the artifact produced by the builder.
	BinaryPath string
	// Args are passed to the binary ahead of the port argument.
	Args []string
	// Port the service must bind; also probed before spawn.
	Port int
	// GracePeriod bounds how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// Env entries appended to the inherited environment.
	Env []string
	// RunID scopes the created instance.
	RunID string
	Log   *zap.SugaredLogger
}

// NewProcessLauncher creates a launcher for the local process backend.
func NewProcessLauncher(cfg ProcessConfig) (*ProcessLauncher, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("port must be positive, got %d", cfg.Port)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = zap.S()
	}
	return &ProcessLauncher{cfg: cfg, log: cfg.Log}, nil
}

// Start implements the Launcher interface.
func (l *ProcessLauncher) Start(ctx context.Context, collector *logging.Collector) (*types.ServiceInstance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return nil, fmt.Errorf("launcher already started an instance for run %s", l.cfg.RunID)
	}

	if err := probePort(l.cfg.Port); err != nil {
		return nil, err
	}

	args := append(append([]string{}, l.cfg.Args...), "--port", strconv.Itoa(l.cfg.Port))
	cmd := exec.CommandContext(ctx, l.cfg.BinaryPath, args...)
	cmd.Env = append(os.Environ(), l.cfg.Env...)
	cmd.Stdout = collector.Stdout()
	cmd.Stderr = collector.Stderr()
	// On context cancellation prefer SIGTERM over the default SIGKILL so
	// the server gets a chance to flush its logs.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	l.log.Debugw("Starting service process",
		"binary", l.cfg.BinaryPath,
		"args", args,
		"port", l.cfg.Port)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", l.cfg.BinaryPath, err)
	}

	l.cmd = cmd
	l.waitCh = make(chan struct{})
	go func() {
		l.waitErr = cmd.Wait()
		close(l.waitCh)
	}()

	instance := &types.ServiceInstance{
		RunID:      l.cfg.RunID,
		Handle:     strconv.Itoa(cmd.Process.Pid),
		Mode:       types.ModeLocal,
		Status:     types.StatusStarting,
		StdoutPath: collector.StdoutPath(),
		StderrPath: collector.StderrPath(),
	}

	l.log.Infow("Service process started",
		"pid", cmd.Process.Pid,
		"port", l.cfg.Port,
		"run_id", l.cfg.RunID)

	return instance, nil
}

// Stop implements the Launcher interface. It sends SIGTERM, waits up to the
// grace period, then force-kills. Only the process this launcher spawned is
// ever signalled.
func (l *ProcessLauncher) Stop(ctx context.Context, instance *types.ServiceInstance) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil || l.stopped {
		return nil
	}
	if instance != nil && instance.RunID != l.cfg.RunID {
		return fmt.Errorf("instance %s does not belong to this launcher (run %s)", instance.RunID, l.cfg.RunID)
	}
	l.stopped = true

	// Already exited on its own.
	select {
	case <-l.waitCh:
		l.log.Debugw("Service process already exited", "error", l.waitErr)
		return nil
	default:
	}

	proc := l.cmd.Process
	l.log.Infow("Stopping service process", "pid", proc.Pid, "grace", l.cfg.GracePeriod)

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// SIGTERM delivery failed; go straight to SIGKILL.
		l.log.Warnw("SIGTERM failed, force-killing", "pid", proc.Pid, "error", err)
		return proc.Kill()
	}

	select {
	case <-l.waitCh:
		l.log.Debugw("Service process exited gracefully", "pid", proc.Pid)
		return nil
	case <-time.After(l.cfg.GracePeriod):
	case <-ctx.Done():
	}

	l.log.Warnw("Graceful shutdown timed out, force-killing", "pid", proc.Pid)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", proc.Pid, err)
	}

	// Reap the killed child so teardown can confirm it died.
	select {
	case <-l.waitCh:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("process %d did not exit after SIGKILL", proc.Pid)
	}
	return nil
}

var _ Launcher = (*ProcessLauncher)(nil)
