// Package classify decides which upstream a request targets, extracts
// telemetry fields from its path, rewrites Vertex project paths and filters
// headers. Adding the credential itself (the Gemini key= query parameter,
// the Vertex Authorization/X-Goog-User-Project headers) is done by the
// gateway.
package classify

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

// Provider identifies which upstream a request targets.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderVertex Provider = "vertex"
)

// StreamingAction is the only action forwarded chunk-by-chunk.
const StreamingAction = "streamGenerateContent"

// LongRunningStartAction and LongRunningPollAction drive LRO affinity.
const (
	LongRunningStartAction = "predictLongRunning"
	LongRunningPollAction  = "fetchPredictOperation"
)

// unknownModel is the telemetry fallback when model extraction fails.
const unknownModel = "unknown"

// vertexPathRegex matches "v1(beta\d+)?/projects/<X>/locations/..." paths;
// group 2 is replaced with the active credential's project id.
var vertexPathRegex = regexp.MustCompile(`^(v1(?:beta\d+)?/projects/)([^/]+)(/locations.*)$`)

// allowedUpstreamHeaders is the explicit allow-list forwarded to either
// upstream. Everything else, including inbound auth headers, is dropped.
var allowedUpstreamHeaders = map[string]bool{
	"content-type":     true,
	"accept":           true,
	"accept-encoding":  true,
	"accept-language":  true,
	"user-agent":       true,
	"x-goog-user-project": true,
}

// hopByHopResponseHeaders are stripped from every response returned to the
// client, since the proxy's own transport determines these afresh.
var hopByHopResponseHeaders = map[string]bool{
	"content-encoding":  true,
	"content-length":    true,
	"transfer-encoding": true,
}

// Classify reports which upstream a request path targets. Classification is
// path-based and requires no body inspection.
func Classify(path string) Provider {
	if strings.Contains(path, "projects/") {
		return ProviderVertex
	}
	return ProviderGemini
}

// ExtractAction returns the part after the final ':' of the last path
// segment that contains one. Returns "" when no segment contains one.
func ExtractAction(path string) string {
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if idx := strings.LastIndex(parts[i], ":"); idx >= 0 {
			return parts[i][idx+1:]
		}
	}
	return ""
}

// ExtractModel returns the path component immediately after "models/", up
// to the first ':'. Falls back to "unknown" when the path has no models
// segment.
func ExtractModel(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "models" && i+1 < len(parts) {
			candidate := parts[i+1]
			if idx := strings.Index(candidate, ":"); idx >= 0 {
				candidate = candidate[:idx]
			}
			if candidate != "" {
				return candidate
			}
			return unknownModel
		}
	}
	return unknownModel
}

// IsStreamingAction reports whether action triggers chunked forwarding.
func IsStreamingAction(action string) bool {
	return action == StreamingAction
}

// RewriteVertexPath splices the active credential's project id into a
// Vertex path. Paths that do not match the expected shape are returned
// unchanged, with ok=false.
func RewriteVertexPath(path, projectID string) (string, bool) {
	m := vertexPathRegex.FindStringSubmatch(path)
	if m == nil {
		return path, false
	}
	return m[1] + projectID + m[3], true
}

// FilterUpstreamHeaders returns a new header set containing only the
// explicit allow-list from src. Hop-by-hop and auth headers are never
// copied, regardless of case.
func FilterUpstreamHeaders(src http.Header) http.Header {
	out := make(http.Header)
	for key, values := range src {
		if allowedUpstreamHeaders[strings.ToLower(key)] {
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}

// FilterResponseHeaders returns a copy of src with hop-by-hop headers
// stripped, for the response handed back to the client.
func FilterResponseHeaders(src http.Header) http.Header {
	out := make(http.Header)
	for key, values := range src {
		if hopByHopResponseHeaders[strings.ToLower(key)] {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// ClientIP resolves the caller's address, honoring X-Forwarded-For/X-Real-IP
// only when trustProxyHeaders is set — otherwise the socket peer is
// authoritative and proxy headers are ignored entirely.
func ClientIP(remoteAddr, forwardedFor, realIP string, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if forwardedFor != "" {
			if idx := strings.Index(forwardedFor, ","); idx >= 0 {
				return strings.TrimSpace(forwardedFor[:idx])
			}
			return strings.TrimSpace(forwardedFor)
		}
		if realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
