package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	harness "github.com/hyperspot/e2e-harness"
	"github.com/hyperspot/e2e-harness/exitcodes"
	"github.com/hyperspot/e2e-harness/flags"
	"github.com/hyperspot/e2e-harness/service"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "hyperspot-e2e"
	app.Usage = "Hyperspot Server E2E Test Harness"
	app.Description = "hyperspot-e2e builds, starts, health-checks and tests hyperspot-server"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeForError(err)))
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcodes.HarnessErr)
	}
}

// exitCodeForError maps a run error to the process exit code. Only a test
// verdict exits with the runner's own code; everything else, including
// operator interrupts surfaced as raw cancel causes, is a harness-side
// abort.
func exitCodeForError(err error) int {
	var testErr *harness.TestFailureError
	if errors.As(err, &testErr) {
		return testErr.ExitCode
	}
	return exitcodes.HarnessErr
}

func run(cliCtx *cli.Context) error {
	log, err := newLogger(cliCtx.String(flags.LogLevel.Name))
	if err != nil {
		return harness.NewConfigError(err)
	}
	defer log.Sync() //nolint:errcheck
	zap.ReplaceGlobals(log.Desugar())

	cfg, err := harness.NewConfig(cliCtx, log)
	if err != nil {
		return harness.NewConfigError(fmt.Errorf("failed to create config: %w", err))
	}

	// Telemetry is best-effort: a missing collector must never fail a run.
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(cliCtx.App.Name),
		otelconfig.WithServiceVersion(cliCtx.App.Version),
	)
	if err != nil {
		log.Warnw("OpenTelemetry setup failed, continuing without traces", "error", err)
	} else {
		defer otelShutdown()
	}

	ctx, cancel := context.WithCancelCause(cliCtx.Context)
	defer cancel(nil)

	h, err := harness.New(ctx, cfg, Version, func(err error) { cancel(err) })
	if err != nil {
		return err
	}

	// Monitoring endpoints live for the whole invocation.
	svc := service.New(log)
	svc.Start(ctx)
	defer svc.Shutdown()

	// One interrupt triggers the same teardown path as any failure; the
	// in-flight cycle releases its instance through its own deferred path.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infow("Received signal, shutting down", "signal", sig)
			cancel(fmt.Errorf("received signal %v", sig))
		case <-ctx.Done():
		}
	}()

	if err := h.Start(ctx); err != nil {
		return err
	}

	if !cfg.RunOnce {
		<-ctx.Done()
		if err := h.Stop(context.Background()); err != nil {
			log.Warnw("Error stopping harness", "error", err)
		}
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer waitCancel()
		if err := h.WaitForShutdown(waitCtx); err != nil {
			log.Warnw("Shutdown wait expired", "error", err)
		}
	}
	return nil
}

// newLogger builds the harness logger at the requested level.
func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
