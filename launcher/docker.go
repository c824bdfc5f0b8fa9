package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/logging"
	"github.com/hyperspot/e2e-harness/types"
)

// DockerLauncher runs the service image in an isolated container with the
// e2e port published to the host.
type DockerLauncher struct {
	cfg DockerConfig
	log *zap.SugaredLogger

	mu          sync.Mutex
	containerID string
	logsCmd     *exec.Cmd
	logsDone    chan struct{}
	stopped     bool
}

// DockerConfig holds configuration for the container backend.
type DockerConfig struct {
	// Binary is the docker CLI to invoke.
	Binary string
	// Image is the tag produced by the builder.
	Image string
	// Port is published host:container.
	Port int
	// GracePeriod is passed to `docker stop` before the runtime kills.
	GracePeriod time.Duration
	// RunID scopes the container name and the created instance.
	RunID string
	Log   *zap.SugaredLogger
}

// NewDockerLauncher creates a launcher for the container backend.
func NewDockerLauncher(cfg DockerConfig) (*DockerLauncher, error) {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("image is required")
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
	return &DockerLauncher{cfg: cfg, log: cfg.Log}, nil
}

// containerName returns the run-scoped container name. Scoping by run ID
// guarantees Stop can never remove a container the harness did not create.
func (l *DockerLauncher) containerName() string {
	return "hyperspot-e2e-" + l.cfg.RunID
}

// checkEngine verifies the container runtime is reachable. Engine
// unavailability must be surfaced as a distinct, diagnosable launch failure
// rather than bleeding into the health-check phase.
func (l *DockerLauncher) checkEngine(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.cfg.Binary, "version", "--format", "{{.Server.Version}}")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("container runtime unavailable: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Start implements the Launcher interface.
func (l *DockerLauncher) Start(ctx context.Context, collector *logging.Collector) (*types.ServiceInstance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.containerID != "" {
		return nil, fmt.Errorf("launcher already started a container for run %s", l.cfg.RunID)
	}

	if err := l.checkEngine(ctx); err != nil {
		return nil, err
	}
	if err := probePort(l.cfg.Port); err != nil {
		return nil, err
	}

	portSpec := fmt.Sprintf("127.0.0.1:%d:%d", l.cfg.Port, l.cfg.Port)
	runArgs := []string{
		"run", "--detach",
		"--name", l.containerName(),
		"--publish", portSpec,
		"--env", "HYPERSPOT_PORT=" + strconv.Itoa(l.cfg.Port),
		l.cfg.Image,
	}

	l.log.Debugw("Starting service container",
		"image", l.cfg.Image,
		"name", l.containerName(),
		"port", portSpec)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.cfg.Binary, runArgs...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	containerID := strings.TrimSpace(stdout.String())
	if containerID == "" {
		return nil, fmt.Errorf("docker run produced no container ID")
	}
	l.containerID = containerID

	// Stream the container's output into the same collector sinks the
	// process backend uses, so diagnostics look identical in both modes.
	logsCmd := exec.CommandContext(ctx, l.cfg.Binary, "logs", "--follow", containerID)
	logsCmd.Stdout = collector.Stdout()
	logsCmd.Stderr = collector.Stderr()
	if err := logsCmd.Start(); err != nil {
		l.log.Warnw("Failed to attach container log stream", "error", err)
	} else {
		l.logsCmd = logsCmd
		l.logsDone = make(chan struct{})
		go func() {
			_ = logsCmd.Wait()
			close(l.logsDone)
		}()
	}

	instance := &types.ServiceInstance{
		RunID:      l.cfg.RunID,
		Handle:     containerID,
		Mode:       types.ModeDocker,
		Status:     types.StatusStarting,
		StdoutPath: collector.StdoutPath(),
		StderrPath: collector.StderrPath(),
	}

	l.log.Infow("Service container started",
		"container", shortID(containerID),
		"port", l.cfg.Port,
		"run_id", l.cfg.RunID)

	return instance, nil
}

// Stop implements the Launcher interface. The container is stopped with the
// configured grace period and then removed. Idempotent.
func (l *DockerLauncher) Stop(ctx context.Context, instance *types.ServiceInstance) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.containerID == "" || l.stopped {
		return nil
	}
	if instance != nil && instance.RunID != l.cfg.RunID {
		return fmt.Errorf("instance %s does not belong to this launcher (run %s)", instance.RunID, l.cfg.RunID)
	}
	l.stopped = true

	graceSecs := int(l.cfg.GracePeriod.Seconds())
	if graceSecs < 1 {
		graceSecs = 1
	}

	l.log.Infow("Stopping service container", "container", shortID(l.containerID), "grace", l.cfg.GracePeriod)

	var stderr bytes.Buffer
	stopCmd := exec.CommandContext(ctx, l.cfg.Binary, "stop", "--time", strconv.Itoa(graceSecs), l.containerID)
	stopCmd.Stderr = &stderr
	stopErr := stopCmd.Run()

	// Removal is forced so a wedged container cannot leak across runs.
	rmCmd := exec.CommandContext(ctx, l.cfg.Binary, "rm", "--force", l.containerID)
	rmErr := rmCmd.Run()

	// Let the log stream drain before the collector is closed.
	if l.logsDone != nil {
		select {
		case <-l.logsDone:
		case <-time.After(5 * time.Second):
			if l.logsCmd != nil && l.logsCmd.Process != nil {
				_ = l.logsCmd.Process.Kill()
			}
		}
	}

	if stopErr != nil && rmErr != nil {
		return fmt.Errorf("docker stop failed: %w: %s", stopErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// shortID trims a container ID for log readability.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ Launcher = (*DockerLauncher)(nil)
