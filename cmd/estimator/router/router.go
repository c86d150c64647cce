// Package router configures HTTP routes for the estimator service.
//
// Routes configured:
//   - POST /predict  - Hybrid savings estimate for {"tds": ..., "flow": ...}
//   - OPTIONS *      - CORS preflight
//   - GET /          - Liveness message {"status": "API is running"}
//   - GET /healthz   - 200 OK when the dataset is loaded, 503 otherwise
//   - GET /metrics   - Prometheus metrics endpoint
//
// /predict responds with the three estimates as named JSON objects:
//
//	{
//	  "final_prediction": {"px_power_savings": 5.0, "power_cost_savings": 2.0},
//	  "nearest_neighbor": {...},
//	  "knn_smoothing":    {...}
//	}
package router

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/pxsavings/pkg/dataset"
	"github.com/HatiCode/pxsavings/pkg/estimator"
	"github.com/HatiCode/pxsavings/pkg/httpx"
)

const maxBodyBytes = 1 << 20

// Predictor answers savings predictions.
type Predictor interface {
	Predict(tds, flow float64) (estimator.Result, error)
	Ready() error
}

// Options configures transport concerns around the routes.
type Options struct {
	CORSOrigin string
	RateLimit  float64
	RateBurst  int

	// Gatherer backs /metrics. Nil uses the default Prometheus gatherer.
	Gatherer prometheus.Gatherer
}

// SetupRoutes returns the service's HTTP handler with middleware applied.
func SetupRoutes(p Predictor, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/{$}", handleRoot())
	mux.Handle("/healthz", httpx.HealthHandlerWithCheck(p.Ready))
	mux.Handle("/predict", httpx.RateLimitMiddleware(opts.RateLimit, opts.RateBurst)(handlePredict(p, logger)))

	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return httpx.Chain(mux,
		httpx.RecoveryMiddleware(logger),
		httpx.LoggingMiddleware(logger),
		httpx.CORSMiddleware(httpx.CORSConfig{
			AllowOrigin:  opts.CORSOrigin,
			AllowMethods: []string{http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Content-Type"},
		}),
	)
}

func handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "API is running"})
	}
}

// handlePredict returns a handler for POST /predict.
func handlePredict(p Predictor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST, OPTIONS")
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpx.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		tds, flow, err := ParseQuery(body)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		res, err := p.Predict(tds, flow)
		if err != nil {
			var loadErr *dataset.LoadError
			switch {
			case errors.Is(err, estimator.ErrInvalidInput):
				httpx.WriteError(w, http.StatusBadRequest, err)
			case errors.As(err, &loadErr):
				httpx.WriteError(w, http.StatusServiceUnavailable, err)
			default:
				logger.Error("prediction failed", "tds", tds, "flow", flow, "error", err)
				httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, res); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// ParseQuery extracts tds and flow from a JSON request body. Each field may be
// a JSON number or a string holding a number. Errors wrap
// estimator.ErrInvalidInput.
func ParseQuery(body []byte) (tds, flow float64, err error) {
	if !gjson.ValidBytes(body) {
		return 0, 0, fmt.Errorf("%w: request body must be valid JSON", estimator.ErrInvalidInput)
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return 0, 0, fmt.Errorf("%w: request body must be a JSON object", estimator.ErrInvalidInput)
	}

	if tds, err = numberField(doc, "tds"); err != nil {
		return 0, 0, err
	}
	if flow, err = numberField(doc, "flow"); err != nil {
		return 0, 0, err
	}
	return tds, flow, nil
}

func numberField(doc gjson.Result, name string) (float64, error) {
	v := doc.Get(name)
	switch v.Type {
	case gjson.Number:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is out of range", estimator.ErrInvalidInput, name)
		}
		return f, nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number, got %q", estimator.ErrInvalidInput, name, v.Str)
		}
		return f, nil
	default:
		if !v.Exists() {
			return 0, fmt.Errorf("%w: missing field %q", estimator.ErrInvalidInput, name)
		}
		return 0, fmt.Errorf("%w: %s must be a number", estimator.ErrInvalidInput, name)
	}
}
