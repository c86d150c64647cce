// Package main wires the reference dataset and the hybrid estimator into the
// prediction service.
//
// The Service loads the dataset exactly once at startup and then answers
// predictions from the immutable store. If the load fails the service keeps
// running and reports itself unavailable, so callers get a 503 rather than a
// dropped connection.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/pxsavings/cmd/estimator/metrics"
	"github.com/HatiCode/pxsavings/pkg/dataset"
	"github.com/HatiCode/pxsavings/pkg/estimator"
)

// Service answers savings predictions from a reference dataset.
type Service struct {
	params  estimator.Params
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Written once by Load before the service starts serving.
	store   *dataset.Store
	loadErr error
}

// NewService creates a Service. The dataset must be loaded with Load before
// the service can answer predictions.
func NewService(params estimator.Params, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	return &Service{
		params:  params,
		logger:  logger,
		metrics: m,
		loadErr: &dataset.LoadError{Reason: dataset.NotFound, Err: errors.New("dataset not loaded yet")},
	}
}

// Load resolves the dataset from the candidate locations. It must be called
// once, before Predict is called from other goroutines.
func (s *Service) Load(ctx context.Context, locations []string, format dataset.Format) error {
	start := time.Now()

	store, err := dataset.Load(ctx, locations,
		dataset.WithLogger(s.logger),
		dataset.WithFormat(format),
	)
	elapsed := time.Since(start)

	if err != nil {
		s.loadErr = err
		s.metrics.RecordLoad(elapsed.Seconds(), 0, false)
		s.metrics.RecordError("dataset", loadReason(err))
		s.logger.Error("failed to load dataset", "locations", locations, "error", err)
		return err
	}

	s.store = store
	s.loadErr = nil
	s.metrics.RecordLoad(elapsed.Seconds(), store.Len(), true)
	s.logger.Info("reference dataset ready",
		"source", store.Source(),
		"rows", store.Len(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

// Ready returns nil when the dataset is loaded.
func (s *Service) Ready() error {
	if s.loadErr != nil {
		return fmt.Errorf("dataset unavailable: %w", s.loadErr)
	}
	return nil
}

// Predict runs the hybrid estimate for one operating point.
func (s *Service) Predict(tds, flow float64) (estimator.Result, error) {
	if err := s.Ready(); err != nil {
		s.metrics.RecordError("dataset", "unavailable")
		return estimator.Result{}, err
	}

	start := time.Now()
	res, err := estimator.Estimate(s.store, tds, flow, s.params)
	if err != nil {
		reason := "internal"
		if errors.Is(err, estimator.ErrInvalidInput) {
			reason = "invalid_input"
		}
		s.metrics.RecordError("estimator", reason)
		return estimator.Result{}, err
	}
	s.metrics.RecordEstimate(time.Since(start).Seconds())

	s.logger.Debug("estimate computed",
		"tds", tds,
		"flow", flow,
		"final_px_power_savings", res.Final.PowerSavings,
		"final_power_cost_savings", res.Final.CostSavings,
	)

	return res, nil
}

func loadReason(err error) string {
	switch {
	case errors.Is(err, dataset.ErrCorrupt):
		return "corrupt"
	case errors.Is(err, dataset.ErrNotFound):
		return "not_found"
	default:
		return "unknown"
	}
}
