package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/beam-controller/internal/eval"
	"github.com/danielpatrickdp/beam-controller/internal/logging"
)

// #region routes
func (s *Server) routes() {
	s.echo.GET("/healthz", s.healthz)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	s.echo.GET("/v1/bandit", s.banditSummary)
	s.echo.GET("/v1/bandit/:context", s.banditContext)
	if s.versions != nil {
		s.echo.GET("/v1/snapshots", s.listSnapshots)
	}
	if s.decisions != nil {
		s.echo.GET("/v1/decisions", s.listDecisions)
	}
}

// #endregion routes

// #region handlers
func (s *Server) healthz(c echo.Context) error {
	resp, err := s.health.Check(c.Request().Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_serving"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// banditSummary returns every context; ?visited=true drops contexts with no rewards.
func (s *Server) banditSummary(c echo.Context) error {
	summary := eval.Summarize(s.models.Model(), s.config.AngleOffset)
	if c.QueryParam("visited") == "true" {
		visited := summary.Contexts[:0]
		for _, cs := range summary.Contexts {
			if cs.Plays > 1 {
				visited = append(visited, cs)
			}
		}
		summary.Contexts = visited
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) banditContext(c echo.Context) error {
	idx, err := strconv.Atoi(c.Param("context"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "context must be an integer index")
	}
	m := s.models.Model()
	if idx < 0 || idx >= m.Config().NContexts {
		return echo.NewHTTPError(http.StatusNotFound, "context out of range")
	}
	cs := eval.SummarizeContext(m, idx, s.config.AngleOffset)
	return c.JSON(http.StatusOK, echo.Map{
		"summary":   cs,
		"estimates": m.EstimateVector(idx),
		"ucb":       m.UpperConfidenceVector(idx),
	})
}

func (s *Server) listSnapshots(c echo.Context) error {
	limit, err := s.limit(c, 20)
	if err != nil {
		return err
	}
	metas, err := s.versions.ListVersions(c.Request().Context(), limit)
	if err != nil {
		s.log.Warn(c.Request().Context(), "list snapshots failed", logging.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list snapshots failed")
	}
	return c.JSON(http.StatusOK, metas)
}

func (s *Server) listDecisions(c echo.Context) error {
	limit, err := s.limit(c, 50)
	if err != nil {
		return err
	}
	entries, err := s.decisions.Recent(c.Request().Context(), limit)
	if err != nil {
		s.log.Warn(c.Request().Context(), "list decisions failed", logging.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list decisions failed")
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) limit(c echo.Context, def int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(n, s.config.MaxListLimit), nil
}

// #endregion handlers
