package classify

import (
	"net/http"
	"testing"
)

func TestClassifyVertexVsGemini(t *testing.T) {
	cases := map[string]Provider{
		"v1beta1/projects/my-proj/locations/us-central1/publishers/google/models/gemini-pro:predict": ProviderVertex,
		"v1/models/gemini-pro:generateContent":                                                       ProviderGemini,
		"v1beta/models/gemini-pro:streamGenerateContent":                                              ProviderGemini,
	}
	for path, want := range cases {
		if got := Classify(path); got != want {
			t.Errorf("Classify(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractAction(t *testing.T) {
	cases := map[string]string{
		"v1/models/gemini-pro:generateContent":                     "generateContent",
		"v1/models/gemini-pro:streamGenerateContent":                "streamGenerateContent",
		"v1beta1/projects/p/locations/l/operations/123:cancel":     "cancel",
		"v1/models/gemini-pro":                                     "",
	}
	for path, want := range cases {
		if got := ExtractAction(path); got != want {
			t.Errorf("ExtractAction(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExtractModel(t *testing.T) {
	cases := map[string]string{
		"v1/models/gemini-1.5-pro:generateContent":                                    "gemini-1.5-pro",
		"v1beta1/projects/p/locations/l/publishers/google/models/gemini-pro:predict": "gemini-pro",
		"v1/operations/123":                                                           unknownModel,
		"v1/models/":                                                                  unknownModel,
	}
	for path, want := range cases {
		if got := ExtractModel(path); got != want {
			t.Errorf("ExtractModel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestIsStreamingAction(t *testing.T) {
	if !IsStreamingAction("streamGenerateContent") {
		t.Error("expected streamGenerateContent to be a streaming action")
	}
	if IsStreamingAction("generateContent") {
		t.Error("expected generateContent to not be a streaming action")
	}
}

func TestRewriteVertexPath(t *testing.T) {
	path := "v1beta1/projects/old-proj/locations/us-central1/publishers/google/models/gemini-pro:predict"
	got, ok := RewriteVertexPath(path, "new-proj")
	if !ok {
		t.Fatal("expected path to match rewrite pattern")
	}
	want := "v1beta1/projects/new-proj/locations/us-central1/publishers/google/models/gemini-pro:predict"
	if got != want {
		t.Errorf("RewriteVertexPath = %q, want %q", got, want)
	}
}

func TestRewriteVertexPathNoMatch(t *testing.T) {
	got, ok := RewriteVertexPath("v1/models/gemini-pro:generateContent", "new-proj")
	if ok {
		t.Fatal("expected no match for a non-projects path")
	}
	if got != "v1/models/gemini-pro:generateContent" {
		t.Errorf("path mutated on non-match: %q", got)
	}
}

func TestFilterUpstreamHeadersDropsAuthAndHopByHop(t *testing.T) {
	src := http.Header{
		"Content-Type":    {"application/json"},
		"Authorization":   {"Bearer secret"},
		"X-Goog-Api-Key":  {"secret"},
		"Host":            {"example.com"},
		"Accept":          {"application/json"},
	}
	out := FilterUpstreamHeaders(src)
	if out.Get("Content-Type") != "application/json" {
		t.Error("expected Content-Type to pass through")
	}
	if out.Get("Accept") != "application/json" {
		t.Error("expected Accept to pass through")
	}
	if out.Get("Authorization") != "" {
		t.Error("expected Authorization to be stripped")
	}
	if out.Get("X-Goog-Api-Key") != "" {
		t.Error("expected X-Goog-Api-Key to be stripped")
	}
	if out.Get("Host") != "" {
		t.Error("expected Host to be stripped")
	}
}

func TestFilterResponseHeadersStripsHopByHop(t *testing.T) {
	src := http.Header{
		"Content-Encoding": {"gzip"},
		"Content-Length":   {"123"},
		"Content-Type":     {"application/json"},
	}
	out := FilterResponseHeaders(src)
	if out.Get("Content-Encoding") != "" || out.Get("Content-Length") != "" {
		t.Error("expected hop-by-hop response headers to be stripped")
	}
	if out.Get("Content-Type") != "application/json" {
		t.Error("expected Content-Type to pass through")
	}
}

func TestClientIPHonorsTrustProxyHeadersFlag(t *testing.T) {
	got := ClientIP("10.0.0.1:443", "203.0.113.5, 10.0.0.2", "", true)
	if got != "203.0.113.5" {
		t.Errorf("ClientIP = %q, want 203.0.113.5", got)
	}

	got = ClientIP("10.0.0.1:443", "203.0.113.5", "", false)
	if got != "10.0.0.1" {
		t.Errorf("ClientIP with trust disabled = %q, want socket peer host", got)
	}
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	got := ClientIP("10.0.0.1:443", "", "203.0.113.9", true)
	if got != "203.0.113.9" {
		t.Errorf("ClientIP = %q, want 203.0.113.9", got)
	}
}

func TestClientIPWithoutPortReturnsAsIs(t *testing.T) {
	got := ClientIP("unix-socket", "", "", false)
	if got != "unix-socket" {
		t.Errorf("ClientIP = %q, want unix-socket unchanged", got)
	}
}
