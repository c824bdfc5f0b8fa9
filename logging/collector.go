// Package logging owns the per-run log sinks for the service under test.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
)

const (
	// RunDirectoryPrefix is the standardized prefix for run directories.
	RunDirectoryPrefix = "e2erun-"

	StdoutFilename = "stdout.log"
	StderrFilename = "stderr.log"
)

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	// Start the background writer
	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously.
// Write implements io.Writer so the file can back an exec.Cmd stream.
func (af *AsyncFile) Write(data []byte) (int, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return 0, fmt.Errorf("async file is closed")
	}

	// Make a copy of the data to avoid race conditions
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return len(data), nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		_, err := af.file.Write(data)
		if err != nil {
			// Log the error but continue processing
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file.
// Close is safe to call multiple times.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if af.stopped {
		af.mu.Unlock()
		return nil
	}
	af.stopped = true
	close(af.queue)
	af.mu.Unlock()

	// Wait for all queued writes to complete
	af.wg.Wait()
	return af.file.Close()
}

// Collector owns the two append-only output sinks for one instance lifecycle.
// Both sinks are flushed and closed on every exit path; Close is idempotent.
type Collector struct {
	runDir     string
	stdoutPath string
	stderrPath string
	stdout     *AsyncFile
	stderr     *AsyncFile

	closeOnce sync.Once
	closeErr  error
}

// NewCollector creates (or overwrites) the stdout/stderr sinks for a run
// under baseDir. Historical retention is not a goal; a rerun with the same
// runID overwrites the previous pair.
func NewCollector(baseDir string, runID string) (*Collector, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}

	stdoutPath := filepath.Join(runDir, StdoutFilename)
	stderrPath := filepath.Join(runDir, StderrFilename)

	stdout, err := NewAsyncFile(stdoutPath)
	if err != nil {
		return nil, err
	}
	stderr, err := NewAsyncFile(stderrPath)
	if err != nil {
		_ = stdout.Close()
		return nil, err
	}

	return &Collector{
		runDir:     runDir,
		stdoutPath: stdoutPath,
		stderrPath: stderrPath,
		stdout:     stdout,
		stderr:     stderr,
	}, nil
}

// Stdout returns the standard-output sink.
func (c *Collector) Stdout() *AsyncFile { return c.stdout }

// Stderr returns the standard-error sink.
func (c *Collector) Stderr() *AsyncFile { return c.stderr }

// StdoutPath returns the path of the standard-output log file.
func (c *Collector) StdoutPath() string { return c.stdoutPath }

// StderrPath returns the path of the standard-error log file.
func (c *Collector) StderrPath() string { return c.stderrPath }

// RunDir returns the run-scoped log directory.
func (c *Collector) RunDir() string { return c.runDir }

// Close flushes and closes both sinks. Safe to call multiple times; later
// calls return the first result.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		errOut := c.stdout.Close()
		errErr := c.stderr.Close()
		if errOut != nil {
			c.closeErr = errOut
		} else {
			c.closeErr = errErr
		}
	})
	return c.closeErr
}

// Tail returns the last n lines of each sink, ANSI-stripped, formatted for
// failure diagnostics. The sinks must be closed first so all queued writes
// have been flushed.
func (c *Collector) Tail(n int) string {
	var b strings.Builder

	out := tailFile(c.stdoutPath, n)
	if out != "" {
		b.WriteString("=== STDOUT (last lines) ===\n")
		b.WriteString(out)
	}
	errOut := tailFile(c.stderrPath, n)
	if errOut != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("=== STDERR (last lines) ===\n")
		b.WriteString(errOut)
	}
	return b.String()
}

// tailFile reads the last n lines of a file. Returns "" when the file is
// missing or empty.
func tailFile(path string, n int) string {
	content, err := os.ReadFile(path)
	if err != nil || len(content) == 0 {
		return ""
	}

	clean := stripansi.Strip(string(content))
	lines := strings.Split(strings.TrimRight(clean, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}
