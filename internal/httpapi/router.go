package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nullstream-labs/genai-rotator/internal/config"
	"github.com/nullstream-labs/genai-rotator/internal/gateway"
	"github.com/nullstream-labs/genai-rotator/internal/logging"
	"github.com/nullstream-labs/genai-rotator/internal/rotate"
	"github.com/nullstream-labs/genai-rotator/internal/telemetry"
)

// NewRouter builds the engine serving the gateway's two proxy prefixes and
// the health probe. gin.Context is never threaded into the gateway itself;
// Handle takes the raw http.ResponseWriter/*http.Request pair so the
// gateway stays framework-agnostic.
func NewRouter(cfg *config.Config, gw *gateway.Gateway, sink *telemetry.Sink, geminiRotator *rotate.GeminiRotator, vertexRotator *rotate.VertexRotator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())
	engine.Use(CORS())
	engine.Use(IPAllowList(&cfg.Security))

	engine.GET("/health", HealthHandler(sink, geminiRotator, vertexRotator))

	proxy := gin.WrapH(http.HandlerFunc(gw.Handle))
	engine.Any("/v1/*path", proxy)
	engine.Any("/v1beta/*path", proxy)

	return engine
}
