// Command estimator serves pressure-exchanger savings estimates for a
// reverse-osmosis system.
//
// At startup the estimator loads the reference dataset from the first
// configured location that exists, then answers predictions over HTTP:
//   - POST /predict - {"tds": 120.5, "flow": 14.2} -> hybrid estimate
//   - GET /         - Liveness message
//   - GET /healthz  - 200 when the dataset is loaded, 503 otherwise
//   - GET /metrics  - Prometheus metrics endpoint
//
// When -grpc-listen is set, a gRPC health service is served as well. It
// reports SERVING only when the dataset loaded.
//
// Usage:
//
//	estimator \
//	  -dataset=hybrid_dataset.csv,s3://datasets/hybrid_dataset.csv \
//	  -k=5 -alpha=0.6 \
//	  -listen=:5000
//
// Environment variables:
//
//	LISTEN            - HTTP listen address (default: :5000)
//	GRPC_LISTEN       - gRPC health listen address (default: disabled)
//	DATASET_LOCATIONS - Comma-separated dataset locations, tried in order
//	DATASET_FORMAT    - csv or json (default: inferred from extension)
//	LOAD_TIMEOUT      - Dataset load timeout (default: 30s)
//	KNN_K             - Neighbors used for smoothing (default: 5)
//	BLEND_ALPHA       - Nearest-neighbor weight in the blend (default: 0.6)
//	CORS_ORIGIN       - Access-Control-Allow-Origin (default: *)
//	RATE_LIMIT        - Max /predict requests per second (default: 0, disabled)
//	RATE_BURST        - Rate limiter burst (default: 20)
//	SHUTDOWN_TIMEOUT  - Graceful shutdown timeout (default: 10s)
//	LOG_LEVEL         - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT        - Logging format: text, json (default: text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/pxsavings/cmd/estimator/config"
	"github.com/HatiCode/pxsavings/cmd/estimator/logger"
	"github.com/HatiCode/pxsavings/cmd/estimator/metrics"
	"github.com/HatiCode/pxsavings/cmd/estimator/router"
	"github.com/HatiCode/pxsavings/pkg/dataset"
	"github.com/HatiCode/pxsavings/pkg/httpx"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting pxsavings estimator",
		"version", version,
		"listen", cfg.Listen,
		"grpc_listen", cfg.GRPCListen,
		"k", cfg.K,
		"alpha", cfg.Alpha,
	)

	// Validate already checked the format.
	format, _ := dataset.ParseFormat(cfg.DatasetFormat)

	svc := NewService(cfg.Params(), log, metrics.New(nil))

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.LoadTimeout)
	if err := svc.Load(loadCtx, cfg.DatasetLocations, format); err != nil {
		log.Warn("serving without a dataset; /predict will return 503")
	}
	cancelLoad()

	handler := router.SetupRoutes(svc, router.Options{
		CORSOrigin: cfg.CORSOrigin,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	}, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen", "addr", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}

		grpcServer = grpc.NewServer()
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", servingStatus(svc))
		reflection.Register(grpcServer)

		g.Go(func() error {
			log.Info("starting gRPC health server", "addr", cfg.GRPCListen)
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return httpServer.Stop(cfg.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func servingStatus(svc *Service) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if svc.Ready() != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}
