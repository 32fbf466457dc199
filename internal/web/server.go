package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/orderflow-agent/internal/usecase"
	"go.uber.org/zap"
)

// Server exposes the read-only status surface: health, agent status and
// Prometheus metrics. It never mutates agent state.
type Server struct {
	router *http.ServeMux
	server *http.Server
	agent  *usecase.Agent
	logger *zap.Logger
}

func NewServer(port int, agent *usecase.Agent, logger *zap.Logger) *Server {
	s := &Server{
		router: http.NewServeMux(),
		agent:  agent,
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.agent.Status()); err != nil {
		s.logger.Error("failed to encode status", zap.Error(err))
	}
}

func (s *Server) Start() error {
	s.logger.Info("status server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
