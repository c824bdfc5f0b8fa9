package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperspot/e2e-harness/types"
)

// updateStats folds a finished test into the suite and run statistics,
// counting subtests individually.
func (r *RunnerResult) updateStats(suite *SuiteResult, test *types.TestResult) {
	addToStats(&suite.Stats, test.Status)
	addToStats(&r.Stats, test.Status)

	for _, subTest := range test.SubTests {
		addToStats(&suite.Stats, subTest.Status)
		addToStats(&r.Stats, subTest.Status)
	}
}

func addToStats(stats *ResultStats, status types.TestStatus) {
	stats.Total++
	switch status {
	case types.TestStatusPass:
		stats.Passed++
	case types.TestStatusFail:
		stats.Failed++
	case types.TestStatusSkip:
		stats.Skipped++
	}
}

// determineSuiteStatus determines the overall status of a suite based on its tests.
func determineSuiteStatus(suite *SuiteResult) types.TestStatus {
	if len(suite.Tests) == 0 {
		return types.TestStatusSkip
	}

	allSkipped := true
	anyFailed := false
	for _, test := range suite.Tests {
		if test.Status != types.TestStatusSkip {
			allSkipped = false
		}
		if test.Status == types.TestStatusFail {
			anyFailed = true
		}
	}
	return determineStatusFromFlags(allSkipped, anyFailed)
}

// determineRunnerStatus determines the overall status of the test run.
func determineRunnerStatus(result *RunnerResult) types.TestStatus {
	if len(result.Suites) == 0 {
		return types.TestStatusSkip
	}

	allSkipped := true
	anyFailed := false
	for _, suite := range result.Suites {
		if suite.Status != types.TestStatusSkip {
			allSkipped = false
		}
		if suite.Status == types.TestStatusFail {
			anyFailed = true
		}
	}
	return determineStatusFromFlags(allSkipped, anyFailed)
}

func determineStatusFromFlags(allSkipped, anyFailed bool) types.TestStatus {
	if allSkipped {
		return types.TestStatusSkip
	}
	if anyFailed {
		return types.TestStatusFail
	}
	return types.TestStatusPass
}

// formatDuration formats the duration to seconds with 1 decimal place.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// String returns a formatted string representation of the test results.
func (r *RunnerResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Test Run Results (%s):\n", formatDuration(r.Duration)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Skipped: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped))

	for suiteName, suite := range r.Suites {
		b.WriteString(fmt.Sprintf("\nSuite: %s (%s)\n", suiteName, formatDuration(suite.Duration)))
		b.WriteString(fmt.Sprintf("├── Status: %s\n", suite.Status))
		b.WriteString(fmt.Sprintf("├── Tests: %d passed, %d failed, %d skipped\n",
			suite.Stats.Passed, suite.Stats.Failed, suite.Stats.Skipped))

		for testName, test := range suite.Tests {
			b.WriteString(fmt.Sprintf("├── Test: %s (%s) [status=%s]\n",
				testName, formatDuration(test.Duration), test.Status))
			if test.Error != nil {
				b.WriteString(fmt.Sprintf("│       └── Error: %s\n", test.Error.Error()))
			}

			i := 0
			for subTestName, subTest := range test.SubTests {
				prefix := "│       ├──"
				if i == len(test.SubTests)-1 {
					prefix = "│       └──"
				}
				b.WriteString(fmt.Sprintf("│       %s Test: %s (%s) [status=%s]\n",
					prefix, subTestName, formatDuration(subTest.Duration), subTest.Status))
				i++
			}
		}
	}
	return b.String()
}

var _ TestRunner = &runner{}
