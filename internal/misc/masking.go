package misc

import (
	"net/url"
	"strings"
)

// HideAPIKey returns a truncated form of a secret suitable for logging:
// enough of the prefix/suffix to recognize it, never enough to reuse it.
func HideAPIKey(key string) string {
	switch {
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	case len(key) > 4:
		return key[:2] + "..." + key[len(key)-2:]
	case len(key) > 2:
		return key[:1] + "..." + key[len(key)-1:]
	default:
		return key
	}
}

// MaskSensitiveQuery masks the value of any query parameter whose name looks
// like a credential (key, token, secret, ...), so request-logging middleware
// never writes a usable Gemini API key to the log.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart, valuePart := part, ""
		if idx := strings.Index(part, "="); idx >= 0 {
			keyPart, valuePart = part[:idx], part[idx+1:]
		}
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !shouldMaskQueryParam(decodedKey) {
			continue
		}
		decodedValue, err := url.QueryUnescape(valuePart)
		if err != nil {
			decodedValue = valuePart
		}
		parts[i] = keyPart + "=" + url.QueryEscape(HideAPIKey(strings.TrimSpace(decodedValue)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func shouldMaskQueryParam(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	key = strings.TrimSuffix(key, "[]")
	if key == "key" || strings.Contains(key, "api-key") || strings.Contains(key, "apikey") || strings.Contains(key, "api_key") {
		return true
	}
	return strings.Contains(key, "token") || strings.Contains(key, "secret")
}
