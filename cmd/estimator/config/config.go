// Package config provides configuration parsing for the estimator service.
//
// Values come from command-line flags with environment variables as
// fallbacks:
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	if err := cfg.Validate(); err != nil {
//		// exit
//	}
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/pxsavings/pkg/dataset"
	"github.com/HatiCode/pxsavings/pkg/estimator"
)

// DefaultDatasetLocations are tried in order when no location is configured.
const DefaultDatasetLocations = "hybrid_dataset.csv,../hybrid_dataset.csv,data/hybrid_dataset.csv"

// Config holds all estimator service configuration.
type Config struct {
	Listen          string
	GRPCListen      string
	LogFormat       string
	LogLevel        string
	ShutdownTimeout time.Duration

	DatasetLocations []string
	DatasetFormat    string
	LoadTimeout      time.Duration

	K     int
	Alpha float64

	CORSOrigin string
	RateLimit  float64
	RateBurst  int
}

// ParseFlags parses command-line flags and environment variables into a Config.
func ParseFlags() *Config {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) *Config {
	cfg := &Config{}
	var locations string

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":5000"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second), "Graceful shutdown timeout")

	fs.StringVar(&locations, "dataset", getEnv("DATASET_LOCATIONS", DefaultDatasetLocations), "Comma-separated dataset locations, tried in order")
	fs.StringVar(&cfg.DatasetFormat, "dataset-format", getEnv("DATASET_FORMAT", ""), "Dataset format: csv or json (empty infers from extension)")
	fs.DurationVar(&cfg.LoadTimeout, "load-timeout", getEnvDuration("LOAD_TIMEOUT", 30*time.Second), "Timeout for loading the dataset at startup")

	fs.IntVar(&cfg.K, "k", getEnvInt("KNN_K", estimator.DefaultK), "Number of neighbors used for k-NN smoothing")
	fs.Float64Var(&cfg.Alpha, "alpha", getEnvFloat("BLEND_ALPHA", estimator.DefaultAlpha), "Weight of the nearest-neighbor value in the blend (0-1)")

	fs.StringVar(&cfg.CORSOrigin, "cors-origin", getEnv("CORS_ORIGIN", "*"), "Access-Control-Allow-Origin value")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", getEnvFloat("RATE_LIMIT", 0), "Max /predict requests per second (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", getEnvInt("RATE_BURST", 20), "Rate limiter burst size")

	_ = fs.Parse(args)

	cfg.DatasetLocations = splitList(locations)

	return cfg
}

// Params returns the estimator parameters.
func (c *Config) Params() estimator.Params {
	return estimator.Params{K: c.K, Alpha: c.Alpha}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address cannot be empty"))
	}
	if c.GRPCListen != "" && c.GRPCListen == c.Listen {
		errs = append(errs, fmt.Errorf("grpc-listen must differ from listen (%s)", c.Listen))
	}
	if len(c.DatasetLocations) == 0 {
		errs = append(errs, errors.New("at least one dataset location is required"))
	}
	if _, err := dataset.ParseFormat(c.DatasetFormat); err != nil {
		errs = append(errs, err)
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, errors.New("load-timeout must be > 0"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown-timeout must be > 0"))
	}
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit < 0 || math.IsNaN(c.RateLimit) {
		errs = append(errs, errors.New("rate-limit must be >= 0"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate-burst must be >= 1 when rate-limit is set"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil {
			return f
		}
		slog.Warn("ignoring invalid number environment variable", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration environment variable", "key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}
