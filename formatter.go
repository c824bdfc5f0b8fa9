package harness

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/runner"
	"github.com/hyperspot/e2e-harness/types"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(result *runner.RunnerResult) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger *zap.SugaredLogger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger *zap.SugaredLogger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
	}
}

// FormatResults renders the per-suite results table to stdout.
func (f *ConsoleResultFormatter) FormatResults(result *runner.RunnerResult) error {
	f.logger.Infow("Printing results...")

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("E2E Test Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for suiteName, suite := range result.Suites {
		t.AppendRow(table.Row{
			"Suite",
			suiteName,
			formatDuration(suite.Duration),
			"-", // Don't count the suite itself as a test
			suite.Stats.Passed,
			suite.Stats.Failed,
			suite.Stats.Skipped,
			getResultString(suite.Status),
			"",
		})

		i := 0
		for testName, test := range suite.Tests {
			prefix := "├──"
			if i == len(suite.Tests)-1 {
				prefix = "└──"
			}

			t.AppendRow(table.Row{
				"Test",
				fmt.Sprintf("%s %s", prefix, testName),
				formatDuration(test.Duration),
				"1",
				boolToInt(test.Status == types.TestStatusPass),
				boolToInt(test.Status == types.TestStatusFail),
				boolToInt(test.Status == types.TestStatusSkip),
				getResultString(test.Status),
				extractKeyErrorMessage(test.Error),
			})

			j := 0
			for subTestName, subTest := range test.SubTests {
				subPrefix := "    ├──"
				if j == len(test.SubTests)-1 {
					subPrefix = "    └──"
				}

				t.AppendRow(table.Row{
					"",
					fmt.Sprintf("%s %s", subPrefix, subTestName),
					formatDuration(subTest.Duration),
					"1",
					boolToInt(subTest.Status == types.TestStatusPass),
					boolToInt(subTest.Status == types.TestStatusFail),
					boolToInt(subTest.Status == types.TestStatusSkip),
					getResultString(subTest.Status),
					extractKeyErrorMessage(subTest.Error),
				})
				j++
			}

			i++
		}

		t.AppendSeparator()
	}

	switch result.Status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		getResultString(result.Status),
		"",
	})

	t.Render()
	return nil
}

// extractKeyErrorMessage extracts the most pertinent part of the error message for display.
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// Surface assertion failures and panics directly
	for _, marker := range []string{"assertion failed:", "panic:"} {
		if idx := strings.Index(errStr, marker); idx != -1 {
			end := len(errStr)
			if newLine := strings.Index(errStr[idx:], "\n"); newLine != -1 {
				end = idx + newLine
			}
			return errStr[idx:end]
		}
	}

	// For exit status errors, look for common Go test failure patterns
	if strings.Contains(errStr, "exit status") {
		for _, pattern := range []string{"expected", "Expected", "got:", "want:", "Error:", "Fatal:", "Failed:"} {
			if idx := strings.Index(errStr, pattern); idx != -1 {
				start := idx
				for start > 0 && errStr[start-1] != '\n' {
					start--
				}
				end := len(errStr)
				if newLine := strings.Index(errStr[idx:], "\n"); newLine != -1 {
					end = idx + newLine
				}
				return errStr[start:end]
			}
		}
	}

	// Otherwise limit to the first line or 80 chars
	if idx := strings.Index(errStr, "\n"); idx != -1 {
		return errStr[:idx]
	} else if len(errStr) > 80 {
		return errStr[:70] + "..."
	}

	return errStr
}

// boolToInt converts a bool to a table cell count.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a symbol-prefixed string representing the test result.
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

// formatDuration formats the duration to seconds with 1 decimal place.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
