package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRunner_RunOnce(t *testing.T) {
	tests := []struct {
		name      string
		job       Job
		wantErr   bool
		status    string
		errorType string
		items     float64
	}{
		{
			name:   "success",
			job:    func(context.Context) (int, error) { return 3, nil },
			status: StatusSuccess,
			items:  3,
		},
		{
			name:      "failure",
			job:       func(context.Context) (int, error) { return 0, errors.New("redis down") },
			wantErr:   true,
			status:    StatusFailure,
			errorType: "error",
		},
		{
			name:      "timeout",
			job:       func(context.Context) (int, error) { return 1, fmt.Errorf("scan: %w", context.DeadlineExceeded) },
			wantErr:   true,
			status:    StatusFailure,
			errorType: "timeout",
			items:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			r := NewRunner(m, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

			err := r.RunOnce(context.Background(), JobTypeSessionSweep, tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunOnce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := counterValue(t, m.jobsTotal, JobTypeSessionSweep, tt.status); got != 1 {
				t.Errorf("jobs total{%s} = %v, want 1", tt.status, got)
			}
			if tt.errorType != "" {
				if got := counterValue(t, m.jobErrors, JobTypeSessionSweep, tt.errorType); got != 1 {
					t.Errorf("job errors{%s} = %v, want 1", tt.errorType, got)
				}
			}
			if got := counterValue(t, m.jobItems, JobTypeSessionSweep); got != tt.items {
				t.Errorf("job items = %v, want %v", got, tt.items)
			}
		})
	}
}

func TestRunner_LogsRemovedItems(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(nil, slog.New(slog.NewJSONHandler(&buf, nil)))

	_ = r.RunOnce(context.Background(), JobTypeRateLimitCleanup, func(context.Context) (int, error) { return 0, nil })
	if buf.Len() != 0 {
		t.Errorf("expected no log line for an idle run, got %s", buf.String())
	}

	_ = r.RunOnce(context.Background(), JobTypeRateLimitCleanup, func(context.Context) (int, error) { return 2, nil })
	if !strings.Contains(buf.String(), `"job_type":"ratelimit_cleanup"`) || !strings.Contains(buf.String(), `"items":2`) {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

func TestRunner_EveryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	r := NewRunner(nil, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	go func() {
		r.Every(ctx, JobTypeIdempotencyCleanup, time.Millisecond, func(context.Context) (int, error) {
			runs.Add(1)
			return 0, nil
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("job did not run on schedule")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Every did not return after cancel")
	}
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
