package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second

	// AdminKeyHeader carries the admin API key.
	AdminKeyHeader = "X-Admin-Key"

	// WebhookSecretHeader carries the secret token set with setWebhook.
	WebhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// HTTPServer serves health checks, read-only admin endpoints and the
// Telegram webhook.
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// port is the port on which the server will listen
	port int

	// server is the underlying HTTP server
	server *http.Server

	// bazar is the main application struct
	bazar models.BazarI

	adminKey string
	// webhook receives Telegram updates; nil when the bot polls.
	webhook       http.HandlerFunc
	webhookSecret string
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+AdminKeyHeader+", "+WebhookSecretHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(
	bazar models.BazarI,
	port int,
	adminKey string,
	webhook http.HandlerFunc,
	webhookSecret string,
	logger *logger.Logger,
) models.APIServer {
	router := gin.Default()

	// Add CORS middleware
	router.Use(corsMiddleware())

	server := &HTTPServer{
		router:        router,
		port:          port,
		bazar:         bazar,
		logger:        logger,
		adminKey:      adminKey,
		webhook:       webhook,
		webhookSecret: webhookSecret,
	}

	// Define routes
	server.routes()

	// Built before Start runs in its own goroutine, so Shutdown never races it.
	server.server = &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%v", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := s.server.Addr
	s.logger.Info("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server", "error", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
