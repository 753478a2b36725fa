// Package httpapi wires the gateway's retry engine behind a Gin router: the
// IP allow-list, the gateway proxy routes and the health probe.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nullstream-labs/genai-rotator/internal/classify"
	"github.com/nullstream-labs/genai-rotator/internal/config"
	log "github.com/sirupsen/logrus"
)

const deniedBody = "Access denied: Your IP address is not whitelisted."

// IPAllowList returns a middleware that enforces cfg.Security's allow-list.
// The literal ["*"] entry (the config default) disables the check entirely.
func IPAllowList(cfg *config.SecurityConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowedClientIPs) == 0 || (len(cfg.AllowedClientIPs) == 1 && cfg.AllowedClientIPs[0] == "*")
	allowed := make(map[string]struct{}, len(cfg.AllowedClientIPs))
	for _, ip := range cfg.AllowedClientIPs {
		allowed[strings.TrimSpace(ip)] = struct{}{}
	}

	return func(c *gin.Context) {
		if allowAll {
			c.Next()
			return
		}

		clientIP := classify.ClientIP(c.Request.RemoteAddr, c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-IP"), cfg.TrustProxyHeaders)
		c.Set(clientIPContextKey, clientIP)
		if _, ok := allowed[clientIP]; !ok {
			log.Warnf("unauthorized access attempt from IP: %s", clientIP)
			c.AbortWithStatus(http.StatusForbidden)
			_, _ = c.Writer.WriteString(deniedBody)
			return
		}
		c.Next()
	}
}

const clientIPContextKey = "rotator_client_ip"

// CORS allows any origin to call the proxy; the upstream APIs it fronts
// are already bearer/key authenticated, so origin restriction here adds
// no security value and only gets in the way of browser-based clients.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
