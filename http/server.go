// Package http serves rent predictions over HTTP and websocket.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rentpredict/config"
	"rentpredict/inference"
	"rentpredict/monitoring"
)

type Server struct {
	server *http.Server
	logger *zap.Logger
}

func NewServer(cfg config.HTTPConfig, svc *inference.Service, logger *zap.Logger, metrics *monitoring.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	NewHandlers(svc, logger, metrics, cfg.AllowedOrigins, cfg.MaxBodyBytes).Register(mux)

	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.AllowedOrigins),
		RequestSizeMiddleware(cfg.MaxBodyBytes),
	}
	if metrics != nil {
		middlewares = append(middlewares, metrics.Middleware(Routes()...))
	}

	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           Chain(middlewares...)(mux),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving on the configured address until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
