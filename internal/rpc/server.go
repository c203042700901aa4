// Package rpc serves the Transmission RPC dialect that Arr services speak,
// translating it onto the put.io API.
package rpc

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/putreap/putreap/internal/putio"
)

// sessionHeader is the Transmission CSRF-protection header. Clients without
// the current value receive a 409 carrying it and retry.
const sessionHeader = "X-Transmission-Session-Id"

// rpcPath is the endpoint Transmission clients hit.
const rpcPath = "/transmission/rpc"

// Cloud is the slice of the put.io API the façade consumes.
type Cloud interface {
	ListTransfers(ctx context.Context, opts putio.ListTransfersOptions) ([]putio.Transfer, error)
	AddTransfer(ctx context.Context, link string, parentID int64) (*putio.Transfer, error)
	UploadFile(ctx context.Context, name string, data []byte, parentID int64) error
	RemoveTransfer(ctx context.Context, id uint64) error
	DeleteFile(ctx context.Context, fileID int64) error
}

// Config holds the façade's runtime parameters.
type Config struct {
	Username          string
	Password          string
	DownloadDirectory string
	InstanceName      string
	InstanceFolderID  int64
}

// Server is the Transmission RPC façade.
type Server struct {
	echo      *echo.Echo
	cloud     Cloud
	cfg       Config
	sessionID string
	gatherer  prometheus.Gatherer
	logger    zerolog.Logger
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the metrics registry /metrics exposes.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates the façade server.
func New(cloud Cloud, cfg Config, opts ...Option) *Server {
	s := &Server{
		echo:      echo.New(),
		cloud:     cloud,
		cfg:       cfg,
		sessionID: ulid.Make().String(),
		gatherer:  prometheus.DefaultGatherer,
		logger:    zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request")
			}
			return nil
		},
	}))

	if s.cfg.Username != "" {
		s.echo.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Skipper: func(c echo.Context) bool {
				// Health and metrics stay open for probes and scrapers.
				return c.Path() != rpcPath
			},
			Validator: func(username, password string, _ echo.Context) (bool, error) {
				userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
				passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
				return userOK && passOK, nil
			},
		}))
	}
}

func (s *Server) setupRoutes() {
	s.echo.POST(rpcPath, s.handleRPC)
	s.echo.GET(rpcPath, s.handleHandshake)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// handleHandshake answers the initial GET some clients send to obtain a
// session id.
func (s *Server) handleHandshake(c echo.Context) error {
	c.Response().Header().Set(sessionHeader, s.sessionID)
	return c.NoContent(http.StatusConflict)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// SessionID returns the current session id, for tests.
func (s *Server) SessionID() string {
	return s.sessionID
}

// Start begins serving on addr and blocks.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
