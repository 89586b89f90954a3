package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/service"
)

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, svc service.CreditService, limiter *ClientLimiter, logger *zap.Logger) *Server {
	h := NewHandler(svc, limiter, logger)

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      h.Routes(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: h.logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("HTTP API listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
