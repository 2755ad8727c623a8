// Package api exposes the HTTP surface: conversation and agent
// management, message submission, inbound webhooks, and user auth.
package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/deliberation"
	"github.com/parley/pkg/models"
)

// Orchestrator is the slice of the deliberation service the handlers
// need.
type Orchestrator interface {
	SubmitMessage(ctx context.Context, conversationID string, event models.InboundEvent) (*conversation.Message, error)
	ActivateAgent(ctx context.Context, conversationID string, agent conversation.Agent) error
	DeactivateAgent(ctx context.Context, conversationID, agentID string) error
}

// ServerConfig carries the wiring for NewServer.
type ServerConfig struct {
	Addr          string
	JWTSecret     string
	WebhookSecret string
	Store         conversation.Store
	Service       Orchestrator
	Registry      *deliberation.Registry
	Users         *UserStore
}

// Server represents the API server
type Server struct {
	echo       *echo.Echo
	addr       string
	store      conversation.Store
	service    Orchestrator
	registry   *deliberation.Registry
	users      *UserStore
	tokens     *TokenService
	hookSecret string

	hookMu       sync.Mutex
	hookLimiters map[string]*rate.Limiter
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:         e,
		addr:         cfg.Addr,
		store:        cfg.Store,
		service:      cfg.Service,
		registry:     cfg.Registry,
		users:        cfg.Users,
		tokens:       NewTokenService(cfg.JWTSecret),
		hookSecret:   cfg.WebhookSecret,
		hookLimiters: make(map[string]*rate.Limiter),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// hookLimiter returns the rate limiter for one adapter, created on
// first use. Each adapter has an independent 10 req/s budget with
// burst 20.
func (s *Server) hookLimiter(adapter string) *rate.Limiter {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	limiter, ok := s.hookLimiters[adapter]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 20)
		s.hookLimiters[adapter] = limiter
	}
	return limiter
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// Auth endpoints
	s.echo.POST("/api/v1/auth/register", s.register)
	s.echo.POST("/api/v1/auth/login", s.login)

	// Inbound channel webhooks; protected by shared secret, not JWT
	s.echo.POST("/hooks/:adapter", s.handleHook)

	// API v1 group
	v1 := s.echo.Group("/api/v1", RequireAuth(s.tokens))

	// Conversation endpoints
	v1.POST("/conversations", s.createConversation)
	v1.GET("/conversations/:id", s.getConversation)
	v1.POST("/conversations/:id/messages", s.postMessage)

	// Agent endpoints
	v1.POST("/conversations/:id/agents", s.attachAgent)
	v1.DELETE("/conversations/:id/agents/:agentId", s.detachAgent)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
