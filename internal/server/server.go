// Package server exposes the webhook surface: one endpoint for the
// parent bot and one per registered child bot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/bot"
	"github.com/yerzhan-dev/manybot/internal/config"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

type Server struct {
	server      *http.Server
	router      *bot.Router
	parentToken string
	log         logger.Logger
}

func New(cfg config.ServerConfig, router *bot.Router, parentToken string, log logger.Logger) *Server {
	s := &Server{
		router:      router,
		parentToken: parentToken,
		log:         log,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the route table. Split out so tests can drive it
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /{token}", s.handleParentWebhook)
	mux.HandleFunc("POST /u/{pair}", s.handleChildWebhook)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	}
}
