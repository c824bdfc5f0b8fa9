// Package health polls the service readiness endpoint until it answers or a
// deadline elapses.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/metrics"
	"github.com/hyperspot/e2e-harness/types"
)

// ReadinessPath is the well-known readiness endpoint of hyperspot-server.
const ReadinessPath = "/healthz"

// ErrDeadlineExceeded is returned when the service never answered 2xx within
// the configured health timeout.
var ErrDeadlineExceeded = errors.New("readiness deadline exceeded")

// Prober issues readiness requests at a fixed interval. Readiness for a
// freshly started local process is expected within low single-digit seconds,
// so a simple bounded polling loop is used rather than backoff.
type Prober struct {
	baseURL  string
	interval time.Duration
	timeout  time.Duration
	runID    string
	client   *http.Client
	log      *zap.SugaredLogger
}

// Config holds prober configuration.
type Config struct {
	BaseURL  string
	Interval time.Duration
	Timeout  time.Duration
	RunID    string
	Log      *zap.SugaredLogger
}

// NewProber creates a prober for the given base URL.
func NewProber(cfg Config) (*Prober, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.Interval)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("health timeout must be positive, got %v", cfg.Timeout)
	}
	if cfg.Log == nil {
		cfg.Log = zap.S()
	}

	// Bound each request so a hung accept cannot eat the whole deadline.
	perRequest := cfg.Interval * 2
	if perRequest < time.Second {
		perRequest = time.Second
	}

	return &Prober{
		baseURL:  cfg.BaseURL,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		runID:    cfg.RunID,
		client:   &http.Client{Timeout: perRequest},
		log:      cfg.Log,
	}, nil
}

// WaitHealthy blocks until the readiness endpoint answers with a 2xx status
// or the deadline elapses. The first probe is issued immediately, so a
// service that is already ready succeeds without any polling delay beyond one
// request round-trip. Every attempt is recorded; a failed attempt is not
// fatal by itself.
func (p *Prober) WaitHealthy(ctx context.Context) ([]types.HealthCheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var results []types.HealthCheckResult

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		res := p.probe(ctx, attempt, start)
		results = append(results, res)
		metrics.RecordHealthProbe(p.runID, res.Succeeded)

		if res.Succeeded {
			p.log.Infow("Service is ready",
				"attempt", attempt,
				"elapsed", res.Elapsed,
				"status", res.HTTPStatus)
			return results, nil
		}

		p.log.Debugw("Service not ready yet",
			"attempt", attempt,
			"elapsed", res.Elapsed,
			"status", res.HTTPStatus,
			"error", res.Err)

		select {
		case <-ctx.Done():
			// Distinguish our own deadline from a parent cancellation so
			// an operator interrupt is not misreported as unhealthy.
			if parentErr := context.Cause(ctx); parentErr != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return results, parentErr
			}
			return results, fmt.Errorf("%w: no 2xx from %s%s within %s (%d attempts)",
				ErrDeadlineExceeded, p.baseURL, ReadinessPath, p.timeout, attempt)
		case <-ticker.C:
		}
	}
}

// probe issues one readiness request.
func (p *Prober) probe(ctx context.Context, attempt int, start time.Time) types.HealthCheckResult {
	res := types.HealthCheckResult{Attempt: attempt}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+ReadinessPath, nil)
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	resp, err := p.client.Do(req)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Succeeded = true
	} else {
		res.Err = fmt.Errorf("readiness endpoint returned %d", resp.StatusCode)
	}
	return res
}
