// Package server assembles the gin engine shared by the standalone binary
// and the serverless entry point.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/assistant"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/config"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/middleware"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/poller"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/proxy"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const ServiceName = "assistant-sse"

type Server struct {
	Engine *gin.Engine

	client  *assistant.Client
	handler *proxy.Handler
	redis   *store.RedisThreadLockStore
}

func New(cfg *config.Config) *Server {
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set, upstream calls will be rejected")
	}
	if cfg.AssistantID == "" {
		slog.Warn("ASSISTANT_ID is not set, runs will be rejected")
	}

	client := assistant.NewClient(assistant.Options{
		APIKey:      cfg.OpenAIAPIKey,
		AssistantID: cfg.AssistantID,
		BaseURL:     cfg.OpenAIBaseURL,
		Beta:        cfg.OpenAIBeta,
		Timeout:     cfg.LLMTimeout,
	})
	waiter := poller.New(client, poller.Config{
		Interval: cfg.PollInterval,
		Timeout:  cfg.PollTimeout,
		Limit:    cfg.MessageLimit,
	})

	s := &Server{client: client}

	var locks store.ThreadLockStore = store.NopThreadLockStore{}
	if cfg.RedisAddr != "" {
		s.redis = store.NewRedisThreadLockStore(cfg.RedisAddr, cfg.RedisPassword, cfg.ThreadLockTTL)
		locks = s.redis
		slog.Info("Thread locking enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.ThreadLockTTL.String())
	}

	s.handler = proxy.NewHandler(client, waiter, locks, proxy.StreamOptions{
		ReadAhead:   cfg.StreamReadAhead,
		MaxLineSize: cfg.StreamMaxLineSize,
	})
	s.Engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.Default()
	r.HandleMethodNotAllowed = true

	// Register Middleware
	r.Use(otelgin.Middleware(ServiceName))
	r.Use(middleware.MetricsMiddleware()) // Prometheus Metrics (First to capture all)
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	api.GET("/stream", s.handler.Stream)
	api.POST("/stream", s.handler.Stream)
	api.POST("/chat", s.handler.Complete)
	// Kept for older clients
	api.POST("/test", s.handler.Complete)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "upstream_breaker": s.client.BreakerState()})
	})
	// Metrics Endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	return r
}

// Shutdown waits for in-flight stream readers and releases the lock store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.handler.Shutdown(ctx)
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
