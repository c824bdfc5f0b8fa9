package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "E2E"

// prefixEnvVars prepends the harness env var prefix to a name.
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Docker = &cli.BoolFlag{
		Name:    "docker",
		Value:   false,
		EnvVars: prefixEnvVars("DOCKER"),
		Usage:   "Run the service under test in a container instead of a local process",
	}
	Smoke = &cli.BoolFlag{
		Name:    "smoke",
		Value:   false,
		EnvVars: prefixEnvVars("SMOKE"),
		Usage:   "Restrict the run to the smoke subset of the suite manifest",
	}
	BaseURL = &cli.StringFlag{
		Name:    "base-url",
		Value:   "",
		EnvVars: prefixEnvVars("BASE_URL"),
		Usage:   "Override the service base URL (local mode only)",
	}
	AuthToken = &cli.StringFlag{
		Name:    "auth-token",
		Value:   "",
		EnvVars: prefixEnvVars("AUTH_TOKEN"),
		Usage:   "Bearer token injected into outgoing test requests; requests carry no authorization header when unset",
	}
	Port = &cli.IntFlag{
		Name:    "port",
		Value:   0,
		EnvVars: prefixEnvVars("PORT"),
		Usage:   "Service port; defaults to the reserved e2e port for the selected mode",
	}
	HealthTimeout = &cli.DurationFlag{
		Name:    "health-timeout",
		Value:   60 * time.Second,
		EnvVars: prefixEnvVars("HEALTH_TIMEOUT"),
		Usage:   "Deadline for the service readiness endpoint to answer 2xx",
	}
	HealthInterval = &cli.DurationFlag{
		Name:    "health-interval",
		Value:   500 * time.Millisecond,
		EnvVars: prefixEnvVars("HEALTH_INTERVAL"),
		Usage:   "Fixed interval between readiness probes",
	}
	GracePeriod = &cli.DurationFlag{
		Name:    "grace-period",
		Value:   10 * time.Second,
		EnvVars: prefixEnvVars("GRACE_PERIOD"),
		Usage:   "How long to wait for graceful shutdown before force-killing the instance",
	}
	ServiceDir = &cli.StringFlag{
		Name:    "service-dir",
		Value:   ".",
		EnvVars: prefixEnvVars("SERVICE_DIR"),
		Usage:   "Path to the hyperspot-server module to build and run",
	}
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: prefixEnvVars("TESTDIR"),
		Usage:   "Path to the directory holding the HTTP e2e test suite",
	}
	SuiteManifest = &cli.StringFlag{
		Name:    "suites",
		Value:   "",
		EnvVars: prefixEnvVars("SUITES"),
		Usage:   "Path to suite manifest file (eg. 'suites.yaml')",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: prefixEnvVars("GO_BINARY"),
		Usage:   "Path to the Go binary used to build the service and run tests",
	}
	DockerBinary = &cli.StringFlag{
		Name:    "docker-binary",
		Value:   "docker",
		EnvVars: prefixEnvVars("DOCKER_BINARY"),
		Usage:   "Path to the docker binary used in docker mode",
	}
	Image = &cli.StringFlag{
		Name:    "image",
		Value:   "hyperspot-server:e2e",
		EnvVars: prefixEnvVars("IMAGE"),
		Usage:   "Image tag built and run in docker mode",
	}
	SkipBuild = &cli.BoolFlag{
		Name:    "skip-build",
		Value:   false,
		EnvVars: prefixEnvVars("SKIP_BUILD"),
		Usage:   "Reuse an existing artifact instead of rebuilding",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory for captured service stdout/stderr logs",
	}
	LogTail = &cli.IntFlag{
		Name:    "log-tail",
		Value:   50,
		EnvVars: prefixEnvVars("LOG_TAIL"),
		Usage:   "Number of captured log lines printed as diagnostics on failure",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between full harness cycles (e.g. '1h'). Set to 0 or omit for run-once mode.",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Harness log level (debug, info, warn, error)",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
	SuiteManifest,
}

var optionalFlags = []cli.Flag{
	Docker,
	Smoke,
	BaseURL,
	AuthToken,
	Port,
	HealthTimeout,
	HealthInterval,
	GracePeriod,
	ServiceDir,
	GoBinary,
	DockerBinary,
	Image,
	SkipBuild,
	LogDir,
	LogTail,
	RunInterval,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
