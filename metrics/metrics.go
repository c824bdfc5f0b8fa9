package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/types"
)

const (
	MetricsNamespace = "e2e"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	healthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "health_probes_total",
		Help:      "Count of readiness probe attempts",
	}, []string{
		"run_id",
		"outcome",
	})

	phaseDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of each orchestrator phase",
	}, []string{
		"run_id",
		"phase",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of harness runs",
	}, []string{
		"mode",
		"run_id",
		"result",
	})

	runTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of e2e tests executed",
	}, []string{
		"mode",
		"run_id",
	})

	runTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_passed",
		Help:      "Number of passed e2e tests",
	}, []string{
		"mode",
		"run_id",
	})

	runTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed e2e tests",
	}, []string{
		"mode",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of harness runs",
	}, []string{
		"mode",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		zap.S().Debugw("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordHealthProbe records one readiness probe attempt.
func RecordHealthProbe(runID string, succeeded bool) {
	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	healthProbesTotal.WithLabelValues(runID, outcome).Inc()
}

// RecordPhase records the duration of an orchestrator phase.
func RecordPhase(runID string, phase string, duration time.Duration) {
	if Debug {
		zap.S().Debugw("metric set",
			"m", "phase_duration_seconds",
			"run_id", runID,
			"phase", phase,
			"duration", duration)
	}
	phaseDuration.WithLabelValues(runID, phase).Set(duration.Seconds())
}

// RecordRun records the terminal outcome of one harness run.
func RecordRun(
	mode types.Mode,
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(string(mode), runID, result).Set(1)
	runTestTotal.WithLabelValues(string(mode), runID).Add(float64(total))
	runTestPassed.WithLabelValues(string(mode), runID).Add(float64(passed))
	runTestFailed.WithLabelValues(string(mode), runID).Add(float64(failed))
	runDuration.WithLabelValues(string(mode), runID).Set(duration.Seconds())
}
