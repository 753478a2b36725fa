package telemetry

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestParseUsageTopLevelObject(t *testing.T) {
	body := []byte(`{"candidates":[],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":5,"totalTokenCount":7}}`)
	prompt, candidates, total := ParseUsage("", body)
	if prompt == nil || *prompt != 2 {
		t.Fatalf("prompt = %v, want 2", prompt)
	}
	if candidates == nil || *candidates != 5 {
		t.Fatalf("candidates = %v, want 5", candidates)
	}
	if total == nil || *total != 7 {
		t.Fatalf("total = %v, want 7", total)
	}
}

func TestParseUsageArrayScansFromLastMatchingElement(t *testing.T) {
	body := []byte(`[
		{"candidates":[],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}},
		{"candidates":[]},
		{"candidates":[],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":9,"totalTokenCount":12}}
	]`)
	_, candidates, total := ParseUsage("", body)
	if candidates == nil || *candidates != 9 {
		t.Fatalf("candidates = %v, want 9 (last matching element)", candidates)
	}
	if total == nil || *total != 12 {
		t.Fatalf("total = %v, want 12", total)
	}
}

func TestParseUsageMalformedBodyYieldsAllNil(t *testing.T) {
	prompt, candidates, total := ParseUsage("", []byte("not json"))
	if prompt != nil || candidates != nil || total != nil {
		t.Fatal("expected all-nil counts for malformed body")
	}
}

func TestParseUsageArrayWithNoMatchYieldsAllNil(t *testing.T) {
	body := []byte(`[{"candidates":[]},{"candidates":[]}]`)
	prompt, candidates, total := ParseUsage("", body)
	if prompt != nil || candidates != nil || total != nil {
		t.Fatal("expected all-nil counts when no array element has usageMetadata")
	}
}

func TestParseUsageDecodesGzipBeforeParsing(t *testing.T) {
	raw := []byte(`{"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":20,"totalTokenCount":30}}`)
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	prompt, candidates, total := ParseUsage("gzip", buf.Bytes())
	if prompt == nil || *prompt != 10 {
		t.Fatalf("prompt = %v, want 10", prompt)
	}
	if candidates == nil || *candidates != 20 {
		t.Fatalf("candidates = %v, want 20", candidates)
	}
	if total == nil || *total != 30 {
		t.Fatalf("total = %v, want 30", total)
	}
}
