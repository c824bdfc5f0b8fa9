package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProber(t *testing.T, baseURL string, interval, timeout time.Duration) *Prober {
	t.Helper()
	p, err := NewProber(Config{
		BaseURL:  baseURL,
		Interval: interval,
		Timeout:  timeout,
		RunID:    "test-run",
		Log:      zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	return p
}

func TestProberConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing base URL",
			cfg:     Config{Interval: time.Second, Timeout: time.Second},
			wantErr: "base URL is required",
		},
		{
			name:    "non-positive interval",
			cfg:     Config{BaseURL: "http://localhost:8087", Timeout: time.Second},
			wantErr: "poll interval must be positive",
		},
		{
			name:    "non-positive timeout",
			cfg:     Config{BaseURL: "http://localhost:8087", Interval: time.Second},
			wantErr: "health timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProber(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWaitHealthyFirstProbeSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ReadinessPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestProber(t, srv.URL, 100*time.Millisecond, 5*time.Second)

	start := time.Now()
	results, err := p.WaitHealthy(context.Background())
	require.NoError(t, err)

	// A service that is already ready must succeed on the first probe
	// without waiting out a poll interval.
	require.Len(t, results, 1)
	assert.True(t, results[0].Succeeded)
	assert.Equal(t, http.StatusOK, results[0].HTTPStatus)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHealthyRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := newTestProber(t, srv.URL, 10*time.Millisecond, 5*time.Second)

	results, err := p.WaitHealthy(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Non-2xx attempts are recorded but not fatal by themselves.
	assert.False(t, results[0].Succeeded)
	assert.Equal(t, http.StatusServiceUnavailable, results[0].HTTPStatus)
	assert.Error(t, results[0].Err)
	assert.True(t, results[2].Succeeded)
	assert.Equal(t, http.StatusNoContent, results[2].HTTPStatus)
	assert.Equal(t, 3, results[2].Attempt)
}

func TestWaitHealthyDeadlineExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestProber(t, srv.URL, 10*time.Millisecond, 100*time.Millisecond)

	results, err := p.WaitHealthy(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.NotEmpty(t, results)
	for _, r := range results {
		assert.False(t, r.Succeeded)
	}
}

func TestWaitHealthyConnectionRefused(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	p := newTestProber(t, addr, 10*time.Millisecond, 100*time.Millisecond)

	results, err := p.WaitHealthy(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	require.NotEmpty(t, results)
	assert.Error(t, results[0].Err)
	assert.Equal(t, 0, results[0].HTTPStatus)
}

func TestWaitHealthyParentCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestProber(t, srv.URL, 10*time.Millisecond, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := p.WaitHealthy(ctx)
	require.Error(t, err)
	// An operator interrupt is not a health timeout.
	assert.NotErrorIs(t, err, ErrDeadlineExceeded)
}
