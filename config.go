package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/flags"
	"github.com/hyperspot/e2e-harness/types"
)

// DefaultPort is the reserved e2e port, kept distinct from the development
// default (8086) so a running dev server never collides with a test run.
const DefaultPort = 8087

// Config holds the application configuration.
type Config struct {
	Mode           types.Mode
	Smoke          bool          // Restrict the run to smoke-marked suites
	BaseURL        string        // Resolved base URL the prober and tests target
	BaseURLSet     bool          // Whether the operator overrode the base URL
	AuthToken      string        // Forwarded to the test suite when non-empty
	Port           int           // Port the service binds
	HealthTimeout  time.Duration // Deadline for the readiness phase
	HealthInterval time.Duration // Fixed interval between readiness probes
	GracePeriod    time.Duration // Graceful-shutdown window before force kill
	ServiceDir     string        // Service module to build and run
	TestDir        string        // Directory holding the HTTP test suite
	SuiteManifest  string        // Path to the suite manifest file
	GoBinary       string
	DockerBinary   string
	Image          string        // Image tag used in docker mode
	SkipBuild      bool          // Reuse an existing artifact
	LogDir         string        // Directory for captured service logs
	LogTail        int           // Log lines surfaced as failure diagnostics
	RunInterval    time.Duration // Interval between full cycles
	RunOnce        bool          // Exit after a single cycle
	Log            *zap.SugaredLogger
}

// NewConfig creates a new Config from cli context.
func NewConfig(ctx *cli.Context, log *zap.SugaredLogger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	mode := types.ModeLocal
	if ctx.Bool(flags.Docker.Name) {
		mode = types.ModeDocker
	}

	baseURLOverride := ctx.String(flags.BaseURL.Name)
	if baseURLOverride != "" && mode == types.ModeDocker {
		return nil, errors.New("base URL override is local-only and conflicts with --docker")
	}

	port := ctx.Int(flags.Port.Name)
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}

	baseURL := baseURLOverride
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}

	healthTimeout := ctx.Duration(flags.HealthTimeout.Name)
	if healthTimeout <= 0 {
		return nil, fmt.Errorf("health timeout must be positive, got %v", healthTimeout)
	}
	healthInterval := ctx.Duration(flags.HealthInterval.Name)
	if healthInterval <= 0 {
		return nil, fmt.Errorf("health interval must be positive, got %v", healthInterval)
	}
	if healthInterval >= healthTimeout {
		return nil, fmt.Errorf("health interval %v must be shorter than the timeout %v", healthInterval, healthTimeout)
	}

	absServiceDir, err := filepath.Abs(ctx.String(flags.ServiceDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service directory: %w", err)
	}
	absTestDir, err := filepath.Abs(ctx.String(flags.TestDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve test directory: %w", err)
	}
	absManifest, err := filepath.Abs(ctx.String(flags.SuiteManifest.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve suite manifest path: %w", err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log directory: %w", err)
	}

	logTail := ctx.Int(flags.LogTail.Name)
	if logTail <= 0 {
		return nil, fmt.Errorf("log tail must be positive, got %d", logTail)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		Mode:           mode,
		Smoke:          ctx.Bool(flags.Smoke.Name),
		BaseURL:        baseURL,
		BaseURLSet:     baseURLOverride != "",
		AuthToken:      ctx.String(flags.AuthToken.Name),
		Port:           port,
		HealthTimeout:  healthTimeout,
		HealthInterval: healthInterval,
		GracePeriod:    ctx.Duration(flags.GracePeriod.Name),
		ServiceDir:     absServiceDir,
		TestDir:        absTestDir,
		SuiteManifest:  absManifest,
		GoBinary:       ctx.String(flags.GoBinary.Name),
		DockerBinary:   ctx.String(flags.DockerBinary.Name),
		Image:          ctx.String(flags.Image.Name),
		SkipBuild:      ctx.Bool(flags.SkipBuild.Name),
		LogDir:         logDir,
		LogTail:        logTail,
		RunInterval:    runInterval,
		RunOnce:        runInterval == 0,
		Log:            log,
	}, nil
}
