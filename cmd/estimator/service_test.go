package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/pxsavings/cmd/estimator/metrics"
	"github.com/HatiCode/pxsavings/pkg/dataset"
	"github.com/HatiCode/pxsavings/pkg/estimator"
)

const testCSV = `permeate_tds,permeate_flow,px_power_savings,power_cost_savings
100,10,5.0,2.0
200,20,8.0,3.0
`

func newTestService(t *testing.T) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(estimator.DefaultParams(), logger, m), m
}

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hybrid_dataset.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}
	return path
}

func TestService_NotReadyBeforeLoad(t *testing.T) {
	svc, m := newTestService(t)

	if err := svc.Ready(); err == nil {
		t.Fatal("Ready() = nil before Load, want error")
	}

	_, err := svc.Predict(100, 10)
	var loadErr *dataset.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Predict() error = %v, want *dataset.LoadError", err)
	}

	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("dataset", "unavailable")); got != 1 {
		t.Errorf("unavailable errors = %v, want 1", got)
	}
}

func TestService_LoadAndPredict(t *testing.T) {
	svc, m := newTestService(t)
	path := writeDataset(t, testCSV)

	missing := filepath.Join(t.TempDir(), "missing.csv")
	if err := svc.Load(context.Background(), []string{missing, path}, dataset.FormatAuto); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := svc.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	if got := testutil.ToFloat64(m.DatasetLoaded); got != 1 {
		t.Errorf("dataset_loaded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DatasetRows); got != 2 {
		t.Errorf("dataset_rows = %v, want 2", got)
	}

	res, err := svc.Predict(100, 10)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if res.Nearest.PowerSavings != 5.0 || res.Nearest.CostSavings != 2.0 {
		t.Errorf("Nearest = %+v, want {5 2}", res.Nearest)
	}
	if math.Abs(res.Final.PowerSavings-5.0) > 1e-6 {
		t.Errorf("Final.PowerSavings = %v, want ~5.0", res.Final.PowerSavings)
	}

	if got := testutil.ToFloat64(m.EstimatesTotal); got != 1 {
		t.Errorf("estimates_total = %v, want 1", got)
	}
}

func TestService_PredictInvalidInput(t *testing.T) {
	svc, m := newTestService(t)
	if err := svc.Load(context.Background(), []string{writeDataset(t, testCSV)}, dataset.FormatAuto); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	_, err := svc.Predict(math.NaN(), 10)
	if !errors.Is(err, estimator.ErrInvalidInput) {
		t.Fatalf("Predict() error = %v, want ErrInvalidInput", err)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("estimator", "invalid_input")); got != 1 {
		t.Errorf("invalid_input errors = %v, want 1", got)
	}
}

func TestService_LoadFailures(t *testing.T) {
	tests := []struct {
		name      string
		locations func(t *testing.T) []string
		want      error
		reason    string
	}{
		{
			name: "no candidate exists",
			locations: func(t *testing.T) []string {
				dir := t.TempDir()
				return []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}
			},
			want:   dataset.ErrNotFound,
			reason: "not_found",
		},
		{
			name: "corrupt snapshot",
			locations: func(t *testing.T) []string {
				return []string{writeDataset(t, "permeate_tds,permeate_flow\n1,2\n")}
			},
			want:   dataset.ErrCorrupt,
			reason: "corrupt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestService(t)

			err := svc.Load(context.Background(), tt.locations(t), dataset.FormatAuto)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(svc.Ready(), tt.want) {
				t.Errorf("Ready() error = %v, want %v", svc.Ready(), tt.want)
			}
			if got := testutil.ToFloat64(m.DatasetLoaded); got != 0 {
				t.Errorf("dataset_loaded = %v, want 0", got)
			}
			if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("dataset", tt.reason)); got != 1 {
				t.Errorf("%s errors = %v, want 1", tt.reason, got)
			}
		})
	}
}

func TestLoadReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&dataset.LoadError{Reason: dataset.NotFound, Err: errors.New("x")}, "not_found"},
		{&dataset.LoadError{Reason: dataset.Corrupt, Err: errors.New("x")}, "corrupt"},
		{errors.New("other"), "unknown"},
	}

	for _, tt := range tests {
		if got := loadReason(tt.err); got != tt.want {
			t.Errorf("loadReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
