package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Hard Limit: 10MB to prevent OOM
const maxBodyBytes = 10 * 1024 * 1024

type ChatRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"thread_id"`
}

// parseChatRequest reads prompt and thread_id from the JSON body, falling
// back to the query string. A body that cannot be read or decoded counts as
// empty.
func parseChatRequest(c *gin.Context, logger *slog.Logger) ChatRequest {
	var req ChatRequest

	if c.Request.Method == http.MethodPost && c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		raw, err := io.ReadAll(c.Request.Body)
		switch {
		case err != nil:
			logger.Warn("Failed to read body", "error", err)
		case len(bytes.TrimSpace(raw)) > 0:
			if err := json.Unmarshal(raw, &req); err != nil {
				logger.Warn("Invalid JSON body", "error", err)
				req = ChatRequest{}
			}
		}
	}

	if req.Prompt == "" {
		req.Prompt = c.Query("prompt")
	}
	if req.ThreadID == "" {
		req.ThreadID = c.Query("thread_id")
	}
	return req
}
