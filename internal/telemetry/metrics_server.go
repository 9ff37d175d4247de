package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes Prometheus collectors at /metrics.
type MetricsServer struct {
	echo   *echo.Echo
	addr   string
	logger *logging.Logger
}

// NewMetricsServer creates a server for addr serving the gatherer's metrics.
// A nil gatherer serves prometheus.DefaultGatherer.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, logger *logging.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &MetricsServer{
		echo:   e,
		addr:   addr,
		logger: logger.Named("metrics"),
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

// Handler returns the HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. A non-nil listener is used instead of the
// configured address. Shutdown is not reported as an error.
func (s *MetricsServer) Start(ln net.Listener) error {
	if ln != nil {
		s.echo.Listener = ln
		s.addr = ln.Addr().String()
	}
	s.logger.Info(context.Background(), "starting metrics server", zap.String("addr", s.addr))

	err := s.echo.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound address once started, or the configured one.
func (s *MetricsServer) Addr() string {
	if a := s.echo.ListenerAddr(); a != nil {
		return a.String()
	}
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
