// Package builder invokes the external toolchain that produces the runnable
// artifact: a server binary for local mode, an image for docker mode.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/mod/modfile"
)

// Builder produces a runnable artifact for one backend. The returned string
// is the binary path (local) or the image tag (docker).
type Builder interface {
	Build(ctx context.Context) (string, error)
}

// BuildFailure carries the toolchain's own error output so the orchestrator
// can surface it unmodified.
type BuildFailure struct {
	Output string
	Err    error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("%v", e.Err)
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}

// ServiceModulePath parses the service module's go.mod and returns its module
// path. A missing or unparsable go.mod means the local build prerequisite is
// absent.
func ServiceModulePath(serviceDir string) (string, error) {
	gomodPath := filepath.Join(serviceDir, "go.mod")
	data, err := os.ReadFile(gomodPath)
	if err != nil {
		return "", fmt.Errorf("service module not found at %s: %w", gomodPath, err)
	}
	f, err := modfile.ParseLax(gomodPath, data, nil)
	if err != nil {
		return "", fmt.Errorf("invalid go.mod at %s: %w", gomodPath, err)
	}
	if f.Module == nil || f.Module.Mod.Path == "" {
		return "", fmt.Errorf("go.mod at %s declares no module path", gomodPath)
	}
	return f.Module.Mod.Path, nil
}

// CheckLocalPrerequisites verifies everything a local-mode build needs before
// any resource is acquired.
func CheckLocalPrerequisites(goBinary, serviceDir string) error {
	if _, err := exec.LookPath(goBinary); err != nil {
		return fmt.Errorf("go binary %q not found: %w", goBinary, err)
	}
	if _, err := ServiceModulePath(serviceDir); err != nil {
		return err
	}
	return nil
}

// CheckDockerPrerequisites verifies everything a docker-mode build needs.
func CheckDockerPrerequisites(dockerBinary, serviceDir string) error {
	if _, err := exec.LookPath(dockerBinary); err != nil {
		return fmt.Errorf("docker binary %q not found: %w", dockerBinary, err)
	}
	dockerfile := filepath.Join(serviceDir, "Dockerfile")
	if _, err := os.Stat(dockerfile); err != nil {
		return fmt.Errorf("Dockerfile not found at %s: %w", dockerfile, err)
	}
	return nil
}

// GoBuilder builds the server binary with the Go toolchain.
type GoBuilder struct {
	GoBinary   string
	ServiceDir string
	// Output is the binary path to produce.
	Output string
	Log    *zap.SugaredLogger
}

// Build implements the Builder interface.
func (b *GoBuilder) Build(ctx context.Context) (string, error) {
	modPath, err := ServiceModulePath(b.ServiceDir)
	if err != nil {
		return "", &BuildFailure{Err: err}
	}

	b.Log.Infow("Building service binary",
		"module", modPath,
		"dir", b.ServiceDir,
		"output", b.Output)

	cmd := exec.CommandContext(ctx, b.GoBinary, "build", "-o", b.Output, ".")
	cmd.Dir = b.ServiceDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &BuildFailure{Err: fmt.Errorf("go build failed: %w", err), Output: stderr.String()}
	}

	if _, err := os.Stat(b.Output); err != nil {
		return "", &BuildFailure{Err: fmt.Errorf("build produced no binary at %s: %w", b.Output, err)}
	}
	return b.Output, nil
}

// DockerBuilder builds the server image with the docker CLI.
type DockerBuilder struct {
	DockerBinary string
	ServiceDir   string
	Image        string
	Log          *zap.SugaredLogger
}

// Build implements the Builder interface.
func (b *DockerBuilder) Build(ctx context.Context) (string, error) {
	b.Log.Infow("Building service image",
		"image", b.Image,
		"dir", b.ServiceDir)

	cmd := exec.CommandContext(ctx, b.DockerBinary, "build", "--tag", b.Image, b.ServiceDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &BuildFailure{Err: fmt.Errorf("docker build failed: %w", err), Output: stderr.String()}
	}
	return b.Image, nil
}

var (
	_ Builder = (*GoBuilder)(nil)
	_ Builder = (*DockerBuilder)(nil)
)
