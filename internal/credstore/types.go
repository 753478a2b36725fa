package credstore

// GeminiCredential is one Gemini API key. KeyID is the telemetry identity:
// "..." followed by the last four characters of the key, never the key
// itself.
type GeminiCredential struct {
	APIKey string
	KeyID  string
}

// VertexCredential is one Vertex AI service account. ProjectID doubles as
// the rotator lookup key and the telemetry identity.
type VertexCredential struct {
	ProjectID          string
	Email              string
	ServiceAccountJSON []byte
	SourcePath         string
}

func geminiKeyID(apiKey string) string {
	if len(apiKey) <= 4 {
		return "..." + apiKey
	}
	return "..." + apiKey[len(apiKey)-4:]
}
