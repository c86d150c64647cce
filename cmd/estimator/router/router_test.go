package router

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/pxsavings/pkg/dataset"
	"github.com/HatiCode/pxsavings/pkg/estimator"
)

// storePredictor runs the real estimator over an in-memory store.
type storePredictor struct {
	store   *dataset.Store
	loadErr error
}

func (p *storePredictor) Ready() error { return p.loadErr }

func (p *storePredictor) Predict(tds, flow float64) (estimator.Result, error) {
	if p.loadErr != nil {
		return estimator.Result{}, p.loadErr
	}
	return estimator.Estimate(p.store, tds, flow, estimator.DefaultParams())
}

type panicPredictor struct{}

func (panicPredictor) Ready() error { return nil }
func (panicPredictor) Predict(float64, float64) (estimator.Result, error) {
	panic("unexpected")
}

type failingPredictor struct{}

func (failingPredictor) Ready() error { return nil }
func (failingPredictor) Predict(float64, float64) (estimator.Result, error) {
	return estimator.Result{}, errors.New("boom")
}

func newTestHandler(t *testing.T, p Predictor) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return SetupRoutes(p, Options{Gatherer: prometheus.NewRegistry()}, logger)
}

func readyPredictor(t *testing.T) *storePredictor {
	t.Helper()
	store, err := dataset.New([]dataset.Row{
		{TDS: 100, Flow: 10, PowerSavings: 5.0, CostSavings: 2.0},
		{TDS: 200, Flow: 20, PowerSavings: 8.0, CostSavings: 3.0},
	}, "test")
	if err != nil {
		t.Fatalf("dataset.New() error = %v", err)
	}
	return &storePredictor{store: store}
}

func unavailablePredictor() *storePredictor {
	return &storePredictor{loadErr: &dataset.LoadError{
		Reason: dataset.NotFound,
		Err:    errors.New("Dataset file not found"),
	}}
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPredict_Success(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	w := post(h, `{"tds": 100, "flow": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}

	var resp map[string]map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	for _, key := range []string{"final_prediction", "nearest_neighbor", "knn_smoothing"} {
		obj, ok := resp[key]
		if !ok {
			t.Fatalf("response missing %q: %v", key, resp)
		}
		if _, ok := obj["px_power_savings"]; !ok {
			t.Errorf("%s missing px_power_savings", key)
		}
		if _, ok := obj["power_cost_savings"]; !ok {
			t.Errorf("%s missing power_cost_savings", key)
		}
	}

	if got := resp["nearest_neighbor"]["px_power_savings"]; got != 5.0 {
		t.Errorf("nearest px_power_savings = %v, want 5.0", got)
	}
	if got := resp["nearest_neighbor"]["power_cost_savings"]; got != 2.0 {
		t.Errorf("nearest power_cost_savings = %v, want 2.0", got)
	}
	if got := resp["final_prediction"]["px_power_savings"]; math.Abs(got-5.0) > 1e-6 {
		t.Errorf("final px_power_savings = %v, want ~5.0", got)
	}
}

func TestPredict_NumericStrings(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	w := post(h, `{"tds": "200", "flow": " 20 "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var res estimator.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if res.Nearest.PowerSavings != 8.0 {
		t.Errorf("nearest power savings = %v, want 8.0", res.Nearest.PowerSavings)
	}
}

func TestPredict_InvalidInput(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", ``, "valid JSON"},
		{"malformed json", `{"tds": 1,`, "valid JSON"},
		{"array body", `[1, 2]`, "JSON object"},
		{"missing tds", `{"flow": 10}`, `missing field "tds"`},
		{"missing flow", `{"tds": 10}`, `missing field "flow"`},
		{"non numeric", `{"tds": "abc", "flow": 10}`, "tds must be a number"},
		{"boolean", `{"tds": 1, "flow": true}`, "flow must be a number"},
		{"null", `{"tds": null, "flow": 1}`, "tds must be a number"},
		{"nan string", `{"tds": "NaN", "flow": 1}`, "finite"},
		{"infinite string", `{"tds": 1, "flow": "-Inf"}`, "finite"},
		{"overflow", `{"tds": 1e999, "flow": 1}`, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status code = %d, want %d", w.Code, http.StatusBadRequest)
			}

			var resp struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("error = %q, want substring %q", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestPredict_DatasetUnavailable(t *testing.T) {
	h := newTestHandler(t, unavailablePredictor())

	w := post(h, `{"tds": 100, "flow": 10}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), "Dataset file not found") {
		t.Errorf("body = %s, want dataset error", w.Body.String())
	}
}

func TestPredict_InternalError(t *testing.T) {
	h := newTestHandler(t, failingPredictor{})

	w := post(h, `{"tds": 100, "flow": 10}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Errorf("internal error details leaked: %s", w.Body.String())
	}
}

func TestPredict_PanicRecovered(t *testing.T) {
	h := newTestHandler(t, panicPredictor{})

	w := post(h, `{"tds": 100, "flow": 10}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if got := w.Header().Get("Allow"); got != "POST, OPTIONS" {
		t.Errorf("Allow = %q", got)
	}
}

func TestPredict_Preflight(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}
}

func TestPredict_RateLimited(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := SetupRoutes(readyPredictor(t), Options{RateLimit: 0.001, RateBurst: 1, Gatherer: prometheus.NewRegistry()}, logger)

	if w := post(h, `{"tds": 1, "flow": 1}`); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", w.Code)
	}
	if w := post(h, `{"tds": 1, "flow": 1}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", w.Code)
	}

	// Health checks are not rate limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}

func TestRootEndpoint(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "API is running" {
		t.Errorf("status = %q, want %q", resp["status"], "API is running")
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		predictor Predictor
		want      int
	}{
		{"ready", readyPredictor(t), http.StatusOK},
		{"dataset missing", unavailablePredictor(), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.predictor)

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, readyPredictor(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Content-Type header should be set for metrics endpoint")
	}
}

func TestParseQuery(t *testing.T) {
	tds, flow, err := ParseQuery([]byte(`{"tds": 412.75, "flow": "18.5", "extra": [1,2,3]}`))
	if err != nil {
		t.Fatalf("ParseQuery() error = %v", err)
	}
	if tds != 412.75 || flow != 18.5 {
		t.Errorf("ParseQuery() = (%v, %v), want (412.75, 18.5)", tds, flow)
	}

	_, _, err = ParseQuery([]byte(`{"flow": 1}`))
	if !errors.Is(err, estimator.ErrInvalidInput) {
		t.Errorf("ParseQuery() error = %v, want ErrInvalidInput", err)
	}
}
