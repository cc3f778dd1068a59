// Package http exposes the conversation core over a small REST surface.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"glitchcube/internal/conversation"
	"glitchcube/internal/goal"
	"glitchcube/internal/logging"
	"glitchcube/internal/server/app"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	app        *app.App
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds the router over an assembled app.
func NewServer(a *app.App, logger logging.Logger) *Server {
	if !a.Config.Server.DebugRoutes {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	if a.Config.Server.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		app:    a,
		engine: engine,
		logger: logging.OrNop(logger),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api/v1")
	{
		api.POST("/conversation", s.handleTurn)
		api.POST("/conversation/:id/end", s.handleEnd)
		api.GET("/conversations", s.handleListConversations)
		api.GET("/goal", s.handleGoal)
		api.POST("/goal/quest_mode", s.handleQuestMode)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.app.Config.Server.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTurn(c *gin.Context) {
	var req app.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.app.Coordinator.ProcessTurn(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("Turn failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "turn processing failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEnd(c *gin.Context) {
	conversationID := c.Param("id")
	err := s.app.Coordinator.EndConversation(c.Request.Context(), conversationID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "status": "ended"})
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		s.logger.Error("End conversation %s: %v", conversationID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end conversation"})
	}
}

type conversationSummary struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Entries      int       `json:"entries"`
	Pending      int       `json:"pending_results"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

func (s *Server) handleListConversations(c *gin.Context) {
	ids, err := s.app.Conversations.List(c.Request.Context())
	if err != nil {
		s.logger.Error("List conversations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	summaries := make([]conversationSummary, 0, len(ids))
	for _, conversationID := range ids {
		conv, err := s.app.Conversations.Get(c.Request.Context(), conversationID)
		if err != nil {
			continue
		}
		summary := conversationSummary{
			ID:        conv.ID,
			Status:    string(conv.Status),
			Entries:   len(conv.Entries),
			Pending:   len(conv.Metadata.PendingResults),
			CreatedAt: conv.CreatedAt,
		}
		if last, ok := conv.LastActivity(); ok {
			summary.LastActivity = last
		}
		summaries = append(summaries, summary)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (s *Server) handleGoal(c *gin.Context) {
	active, err := s.app.Goals.ActiveGoal(c.Request.Context(), goal.DefaultScope)
	if err != nil {
		s.logger.Error("Load active goal: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load goal"})
		return
	}
	if active == nil {
		c.JSON(http.StatusOK, gin.H{"active": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (s *Server) handleQuestMode(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.app.Goals.SetQuestMode(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"quest_mode": req.Enabled})
}
