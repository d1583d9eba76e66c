package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
	"github.com/danielpatrickdp/beam-controller/internal/observability"
	"github.com/danielpatrickdp/beam-controller/internal/state"
)

// ServiceName is the health service name reported for the decision loop.
const ServiceName = "beam.Controller"

// #region config
// Config holds listen addresses for the operator surfaces.
type Config struct {
	HTTPAddr        string // empty disables HTTP
	GRPCAddr        string // empty disables gRPC health
	ShutdownTimeout time.Duration
	AngleOffset     int // bucket index of 0 degrees
	MaxListLimit    int
}

// DefaultConfig returns the reference listen addresses.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50061",
		ShutdownTimeout: 5 * time.Second,
		AngleOffset:     90,
		MaxListLimit:    500,
	}
}

// #endregion config

// #region deps
// ModelSource exposes the live bandit model. *controller.Controller satisfies it.
type ModelSource interface {
	Model() *bandit.Model
}

// VersionLister lists stored snapshots. *state.Store satisfies it.
type VersionLister interface {
	ListVersions(ctx context.Context, limit int) ([]state.SnapshotMeta, error)
}

// DecisionReader returns recent provenance. *logging.DecisionLog satisfies it.
type DecisionReader interface {
	Recent(ctx context.Context, limit int) ([]logging.DecisionEntry, error)
}

// Option customises a Server.
type Option func(*Server)

// WithVersions enables /v1/snapshots.
func WithVersions(v VersionLister) Option {
	return func(s *Server) { s.versions = v }
}

// WithDecisions enables /v1/decisions.
func WithDecisions(d DecisionReader) Option {
	return func(s *Server) { s.decisions = d }
}

// WithMetrics enables /metrics and RPC counters.
func WithMetrics(m *observability.ControllerCollector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Server) { s.log = log }
}

// #endregion deps

// #region server
// Server hosts the operator HTTP API and the gRPC health service.
type Server struct {
	config    Config
	models    ModelSource
	versions  VersionLister
	decisions DecisionReader
	metrics   *observability.ControllerCollector
	log       logging.Logger

	echo   *echo.Echo
	grpc   *grpc.Server
	health *health.Server
}

// New builds both surfaces. The health status starts NOT_SERVING until
// SetServing(true) is called.
func New(config Config, models ModelSource, opts ...Option) *Server {
	s := &Server{config: config, models: models, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.MaxListLimit <= 0 {
		s.config.MaxListLimit = DefaultConfig().MaxListLimit
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()

	s.health = health.NewServer()
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpc = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(s.metrics.UnaryServerInterceptor()),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// GRPC returns the gRPC server for registering extra services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

// SetServing flips both the gRPC health status and /healthz.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Serve listens on the configured addresses until ctx is cancelled, then
// shuts both surfaces down.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 2)
	running := 0

	var httpSrv *http.Server
	if s.config.HTTPAddr != "" {
		lis, err := net.Listen("tcp", s.config.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", s.config.HTTPAddr, err)
		}
		httpSrv = &http.Server{Handler: s.echo, ReadHeaderTimeout: 5 * time.Second}
		running++
		go func() {
			if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
				return
			}
			errc <- nil
		}()
		s.log.Info(ctx, "serving operator http", logging.String("addr", lis.Addr().String()))
	}

	if s.config.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.config.GRPCAddr)
		if err != nil {
			if httpSrv != nil {
				_ = httpSrv.Close()
			}
			return fmt.Errorf("listen grpc %s: %w", s.config.GRPCAddr, err)
		}
		running++
		go func() {
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc: %w", err)
				return
			}
			errc <- nil
		}()
		s.log.Info(ctx, "serving grpc health", logging.String("addr", lis.Addr().String()))
	}

	if running == 0 {
		<-ctx.Done()
		return nil
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		running--
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn(ctx, "http shutdown", logging.Err(err))
		}
	}
	s.grpc.GracefulStop()

	for ; running > 0; running-- {
		if err := <-errc; err != nil && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// #endregion server
