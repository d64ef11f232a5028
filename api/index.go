// Package handler is the serverless entry point. The platform calls Handler
// for every request; the engine is built once per instance.
package handler

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/config"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/server"
	"github.com/gin-gonic/gin"
)

var defaultHandler http.Handler

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	gin.SetMode(gin.ReleaseMode)
	defaultHandler = server.New(config.LoadConfig()).Engine
}

// Handler is the entry point for Vercel's Go runtime.
func Handler(w http.ResponseWriter, r *http.Request) {
	defaultHandler.ServeHTTP(w, r)
}
