// Package api exposes the chat pipeline over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edibez/cryptochat/internal/compose"
	"github.com/edibez/cryptochat/internal/dialogue"
	"github.com/edibez/cryptochat/internal/markup"
	"github.com/edibez/cryptochat/internal/query"
	"github.com/edibez/cryptochat/internal/ratelimit"
	"github.com/edibez/cryptochat/internal/store"
	"github.com/edibez/cryptochat/pkg/types"
)

// Catalog is the coin catalog as seen by the operator endpoints
type Catalog interface {
	Refresh(ctx context.Context) error
	Len() int
	RefreshedAt() time.Time
}

// Stats records turns and reports usage
type Stats interface {
	dialogue.Recorder
	Summary(ctx context.Context) (*store.Summary, error)
}

// Deps wires a Server. Handler is required; the rest may be nil.
type Deps struct {
	Handler dialogue.Handler
	Catalog Catalog
	Stats   Stats
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
}

// Server holds the HTTP handlers
type Server struct {
	handler dialogue.Handler
	catalog Catalog
	stats   Stats
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// NewServer creates a server
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: deps.Handler,
		catalog: deps.Catalog,
		stats:   deps.Stats,
		limiter: deps.Limiter,
		logger:  logger,
	}
}

// Router builds the gin engine with every route
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/v1")
	{
		v1.GET("/prompts", s.handlePrompts)
		v1.POST("/render", s.handleRender)
		v1.GET("/usage", s.handleUsage)
		v1.POST("/catalog/refresh", s.handleCatalogRefresh)
	}

	chat := r.Group("/v1")
	chat.Use(s.rateLimitMiddleware())
	{
		chat.POST("/query", s.handleQuery)
		chat.GET("/chat/ws", s.handleChat)
	}

	return r
}

// Middleware

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		allowed, remaining, err := s.limiter.Allow(c.Request.Context(), "client:"+c.ClientIP())
		if err != nil {
			s.logger.Warn("rate limit check failed", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, types.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "rate_limited",
			})
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "ts": time.Now().Unix()}
	if s.catalog != nil {
		resp["catalog_coins"] = s.catalog.Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePrompts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"quick_prompts": compose.QuickPrompts})
}

// handleQuery runs one turn in a throwaway session
func (s *Server) handleQuery(c *gin.Context) {
	var req types.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "query is required", Code: "bad_request"})
		return
	}

	intent := types.IntentUnknown
	ctrl := s.newController(dialogue.HandlerFunc(func(ctx context.Context, text string) query.Result {
		res := s.handler.Handle(ctx, text)
		intent = res.Intent
		return res
	}))
	defer ctrl.Close()

	reply, err := ctrl.Submit(c.Request.Context(), req.Query)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dialogue.ErrEmptyInput) {
			status = http.StatusBadRequest
		}
		c.JSON(status, types.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, types.QueryResponse{
		Query:    req.Query,
		Intent:   intent,
		Markup:   reply,
		Document: markup.Parse(reply),
	})
}

func (s *Server) handleRender(c *gin.Context) {
	var req types.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "markup is required", Code: "bad_request"})
		return
	}

	doc := markup.Parse(req.Markup)
	c.JSON(http.StatusOK, gin.H{
		"document": doc,
		"markup":   doc.String(),
	})
}

func (s *Server) handleUsage(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{Error: "usage stats disabled"})
		return
	}

	sum, err := s.stats.Summary(c.Request.Context())
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to get usage stats"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleCatalogRefresh(c *gin.Context) {
	if s.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{Error: "catalog disabled"})
		return
	}

	if err := s.catalog.Refresh(c.Request.Context()); err != nil {
		s.logger.Error("catalog refresh failed", "error", err)
		c.JSON(http.StatusBadGateway, types.ErrorResponse{
			Error:   "catalog refresh failed",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"coins":        s.catalog.Len(),
		"refreshed_at": s.catalog.RefreshedAt(),
	})
}

func (s *Server) newController(h dialogue.Handler) *dialogue.Controller {
	opts := []dialogue.Option{dialogue.WithLogger(s.logger)}
	if s.stats != nil {
		opts = append(opts, dialogue.WithRecorder(s.stats))
	}
	return dialogue.NewController(h, opts...)
}
