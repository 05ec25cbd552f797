package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/api/auth"
	"github.com/modmail/internal/modmail"
)

// Directory is the operator-managed data next to threads: blocks, canned
// replies and per-recipient history.
type Directory interface {
	modmail.RecipientRegistry
	modmail.SnippetStore
	modmail.ThreadLog
}

// Enqueuer hands inbound events to the job queue instead of relaying inline.
type Enqueuer interface {
	EnqueueRecipientMessage(ctx context.Context, msg modmail.NormalizedMessage) (string, error)
	EnqueueModeratorReply(ctx context.Context, channelID string, msg modmail.NormalizedMessage) (string, error)
}

// Config holds the server settings.
type Config struct {
	Port          int
	JWTSecret     string
	InboundSecret string
}

// Server represents the API server
type Server struct {
	echo      *echo.Echo
	port      int
	engine    *modmail.Engine
	directory Directory
	queue     Enqueuer
	tokens    *auth.TokenService
}

// NewServer creates a new API server. queue may be nil, in which case inbound
// events are relayed synchronously.
func NewServer(cfg Config, engine *modmail.Engine, directory Directory, queue Enqueuer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		echo:      e,
		port:      cfg.Port,
		engine:    engine,
		directory: directory,
		queue:     queue,
		tokens:    auth.NewTokenService(cfg.JWTSecret),
	}

	// Setup routes
	server.setupRoutes(cfg)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(cfg Config) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Platform events
	inbound := v1.Group("/inbound", auth.RequireSharedSecret(cfg.InboundSecret))
	inbound.POST("/direct-messages", s.receiveDirectMessage)
	inbound.POST("/channel-messages", s.receiveChannelMessage)

	// Operator endpoints
	op := v1.Group("", auth.RequireAuth(s.tokens))
	op.POST("/threads", s.openThread)
	op.GET("/threads/:id", s.getThread)
	op.GET("/channels/:channel_id/thread", s.getThreadByChannel)
	op.POST("/threads/:id/close", s.transition(s.engine.Close, "Closed thread"))
	op.POST("/threads/:id/suspend", s.transition(s.engine.Suspend, "Suspended thread"))
	op.POST("/threads/:id/unsuspend", s.transition(s.engine.Unsuspend, "Unsuspended thread"))
	op.POST("/threads/:id/answered", s.transition(s.engine.MarkAsAnswered, "Marked thread answered"))
	op.POST("/threads/:id/subscribe", s.subscribe)
	op.POST("/threads/:id/unsubscribe", s.unsubscribe)
	op.POST("/threads/:id/reply", s.reply)
	op.POST("/threads/:id/canned-reply", s.cannedReply)

	op.GET("/recipients/:id/threads", s.recipientThreads)
	op.POST("/recipients/:id/block", s.blockRecipient)
	op.DELETE("/recipients/:id/block", s.unblockRecipient)

	op.GET("/snippets", s.listSnippets)
	op.PUT("/snippets/:name", s.putSnippet)
	op.DELETE("/snippets/:name", s.deleteSnippet)
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
