package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullstream-labs/genai-rotator/internal/rotate"
	"github.com/nullstream-labs/genai-rotator/internal/telemetry"
)

const healthProbeTimeout = 3 * time.Second

// HealthResponse mirrors the /health contract: a coarse status plus the
// three signals it was derived from.
type HealthResponse struct {
	Status            string `json:"status"`
	Database          bool   `json:"database"`
	GeminiKeys        int    `json:"gemini_keys"`
	VertexCredentials int    `json:"vertex_credentials"`
}

// HealthHandler reports healthy iff the database is reachable and at least
// one credential is loaded, degraded if the database is reachable but the
// pool is empty, and unhealthy otherwise.
func HealthHandler(sink *telemetry.Sink, geminiRotator *rotate.GeminiRotator, vertexRotator *rotate.VertexRotator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		dbUp := sink != nil && sink.Ping(ctx)
		geminiCount := geminiRotator.Count()
		vertexCount := vertexRotator.Count()

		status := "unhealthy"
		switch {
		case dbUp && (geminiCount > 0 || vertexCount > 0):
			status = "healthy"
		case dbUp:
			status = "degraded"
		}

		c.JSON(http.StatusOK, HealthResponse{
			Status:            status,
			Database:          dbUp,
			GeminiKeys:        geminiCount,
			VertexCredentials: vertexCount,
		})
	}
}
