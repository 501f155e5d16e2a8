// Package server exposes running send sessions over HTTP for operators and demos
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/orchestrator"
)

// Registry holds the orchestrators reachable through the server
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*orchestrator.Orchestrator
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*orchestrator.Orchestrator)}
}

// Add registers o under its session id
func (r *Registry) Add(o *orchestrator.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[o.Session()] = o
}

// Remove forgets a session and closes its orchestrator
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	o, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		o.Close()
	}
	return ok
}

func (r *Registry) Get(id uuid.UUID) (*orchestrator.Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.sessions[id]
	return o, ok
}

func (r *Registry) List() []*orchestrator.Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*orchestrator.Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		out = append(out, o)
	}
	return out
}

// Close closes every registered orchestrator
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uuid.UUID]*orchestrator.Orchestrator)
	r.mu.Unlock()

	for _, o := range sessions {
		o.Close()
	}
}

// Server is the debug HTTP surface
type Server struct {
	router   *gin.Engine
	registry *Registry
	log      *zap.Logger
	http     *http.Server
}

// New builds the router. service names the otel spans.
func New(registry *Registry, service string, log *zap.Logger) *Server {
	log = log.Named("server")

	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(otelgin.Middleware(service))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{router: router, registry: registry, log: log}
	s.registerRoutes()
	return s
}

// Router returns the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := s.router.Group("/api/v1/sessions")
	{
		sessions.GET("", s.listSessions)
		sessions.GET("/:id", s.withSession(s.getSession))
		sessions.DELETE("/:id", s.deleteSession)

		sessions.POST("/:id/amount", s.withSession(s.setAmount))
		sessions.POST("/:id/destination", s.withSession(s.setDestination))
		sessions.POST("/:id/fee", s.withSession(s.setFee))
		sessions.POST("/:id/validator", s.withSession(s.setValidator))
		sessions.POST("/:id/refresh-fee", s.withSession(s.refreshFee))

		sessions.POST("/:id/perform", s.withSession(s.perform))
		sessions.POST("/:id/approve", s.withSession(s.approve))
		sessions.POST("/:id/initialize", s.withSession(s.initialize))
	}
}

// ListenAndServe serves until ctx is done, then shuts down within timeout
func (s *Server) ListenAndServe(ctx context.Context, addr string, timeout time.Duration) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting debug server", zap.String("addr", addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("shutting down debug server")
	return s.http.Shutdown(shutdownCtx)
}
