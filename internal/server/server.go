// Package server provides the main application server.
package server

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/putreap/putreap/internal/arr"
	"github.com/putreap/putreap/internal/config"
	"github.com/putreap/putreap/internal/engine"
	"github.com/putreap/putreap/internal/fetch"
	"github.com/putreap/putreap/internal/metrics"
	"github.com/putreap/putreap/internal/putio"
	"github.com/putreap/putreap/internal/rpc"
)

// Options holds additional server options not in config.
type Options struct {
	// PutioBaseURL overrides the put.io API endpoint, for tests.
	PutioBaseURL string

	// Registerer overrides the metrics registry; nil means the default
	// registry backing the /metrics endpoint.
	Registerer prometheus.Registerer

	// Logger
	Logger zerolog.Logger
}

// Server is the main application server: the Transmission façade in front,
// the download engine behind it, both sharing one put.io client.
type Server struct {
	cfg      config.Config
	cloud    *putio.Client
	arrs     []engine.HistoryClient
	fetcher  *fetch.Fetcher
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   zerolog.Logger

	// Built in Run once the instance folder is resolved.
	engine    *engine.Engine
	rpcServer *rpc.Server
}

// New creates a new server with the given configuration.
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	cloudOpts := []putio.Option{
		putio.WithLogger(logger.With().Str("component", "putio").Logger()),
	}
	if opts.PutioBaseURL != "" {
		cloudOpts = append(cloudOpts, putio.WithBaseURL(opts.PutioBaseURL))
	}
	cloud := putio.New(cfg.Putio.APIToken, cloudOpts...)

	// Build Arr history clients in probe order.
	arrServices := cfg.ArrServices()
	arrs := make([]engine.HistoryClient, 0, len(arrServices))
	for _, svc := range arrServices {
		logger.Info().Str("name", svc.Name).Str("url", svc.URL).Msg("configuring arr service")
		arrs = append(arrs, arr.New(
			svc.Name,
			svc.URL,
			svc.APIKey,
			arr.WithLogger(logger.With().Str("arr", svc.Name).Logger()),
		))
	}

	if len(arrs) == 0 {
		logger.Warn().Msg("no arr services configured - downloads will never be marked imported")
	}

	fetcher := fetch.New(
		fetch.WithLogger(logger.With().Str("component", "fetch").Logger()),
	)

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := metrics.New(reg)

	// /metrics must gather from the same registry the collectors went into.
	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Server{
		cfg:      cfg,
		cloud:    cloud,
		arrs:     arrs,
		fetcher:  fetcher,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
	}, nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Str("listen", s.cfg.Listen).
		Str("download_directory", s.cfg.DownloadDirectory).
		Str("instance", s.cfg.Putio.InstanceName).
		Msg("starting putreap")

	// Fail fast on a bad token rather than polling into 401s.
	account, err := s.cloud.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify put.io credentials: %w", err)
	}
	s.logger.Info().Str("username", account.Username).Msg("authenticated with put.io")

	folderID, err := s.resolveInstanceFolder(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve instance folder: %w", err)
	}

	s.engine = engine.New(
		engine.Config{
			DownloadDirectory:    s.cfg.DownloadDirectory,
			PollingInterval:      s.cfg.PollingInterval,
			OrchestrationWorkers: s.cfg.OrchestrationWorkers,
			DownloadWorkers:      s.cfg.DownloadWorkers,
			SkipDirectories:      s.cfg.SkipDirectories,
			InstanceName:         s.cfg.Putio.InstanceName,
			InstanceFolderID:     folderID,
		},
		s.cloud,
		s.arrs,
		s.fetcher,
		engine.WithLogger(s.logger.With().Str("component", "engine").Logger()),
		engine.WithMetrics(s.metrics),
	)

	s.rpcServer = rpc.New(
		s.cloud,
		rpc.Config{
			Username:          s.cfg.Username,
			Password:          s.cfg.Password,
			DownloadDirectory: s.cfg.DownloadDirectory,
			InstanceName:      s.cfg.Putio.InstanceName,
			InstanceFolderID:  folderID,
		},
		rpc.WithLogger(s.logger.With().Str("component", "rpc").Logger()),
		rpc.WithGatherer(s.gatherer),
	)

	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Start the façade in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.rpcServer.Start(s.cfg.Listen); err != nil {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// resolveInstanceFolder returns the put.io folder this instance saves
// transfers into. A configured id wins; otherwise a root folder named after
// the instance is reused or created.
func (s *Server) resolveInstanceFolder(ctx context.Context) (int64, error) {
	if s.cfg.Putio.InstanceFolderID != 0 {
		return s.cfg.Putio.InstanceFolderID, nil
	}

	name := s.cfg.Putio.InstanceName

	root, err := s.cloud.ListFiles(ctx, 0)
	if err != nil {
		return 0, err
	}
	for _, f := range root.Files {
		if f.IsFolder() && f.Name == name {
			s.logger.Info().Int64("folder_id", f.ID).Str("name", name).Msg("using existing instance folder")
			return f.ID, nil
		}
	}

	folder, err := s.cloud.CreateFolder(ctx, name, 0)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("folder_id", folder.ID).Str("name", name).Msg("instance folder created")
	return folder.ID, nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down...")

	if s.rpcServer != nil {
		if err := s.rpcServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("rpc server shutdown error")
		}
	}

	if s.engine != nil {
		s.engine.Stop()
	}

	s.logger.Info().Msg("shutdown complete")
	return nil
}
