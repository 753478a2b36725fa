package vertexsa

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"
)

func generatePEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

func serviceAccountJSON(t *testing.T, projectID, privateKey string) []byte {
	t.Helper()
	sa := map[string]any{
		"type":         "service_account",
		"project_id":   projectID,
		"private_key":  privateKey,
		"client_email": "svc@" + projectID + ".iam.gserviceaccount.com",
	}
	raw, err := json.Marshal(sa)
	if err != nil {
		t.Fatalf("marshal service account: %v", err)
	}
	return raw
}

func TestParseValid(t *testing.T) {
	pem := generatePEM(t)
	raw := serviceAccountJSON(t, "proj-a", pem)

	account, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if account.ProjectID != "proj-a" {
		t.Fatalf("project id = %q, want proj-a", account.ProjectID)
	}
	if !strings.Contains(account.PrivateKey, "RSA PRIVATE KEY") {
		t.Fatalf("private key not normalized: %q", account.PrivateKey)
	}
}

func TestParseMissingProjectID(t *testing.T) {
	raw := serviceAccountJSON(t, "", generatePEM(t))
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for missing project_id")
	}
}

func TestParseMissingPrivateKey(t *testing.T) {
	sa := map[string]any{"project_id": "proj-a"}
	raw, _ := json.Marshal(sa)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for missing private_key")
	}
}

func TestParseEscapedNewlines(t *testing.T) {
	pem := generatePEM(t)
	escaped := strings.ReplaceAll(pem, "\n", "\\n")
	// Simulate an environment-variable style escape being literally present:
	// the private_key holds backslash-n sequences instead of newlines, so
	// sanitizePrivateKey must turn them back into line breaks.
	raw := serviceAccountJSON(t, "proj-b", escaped)

	account, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if account.ProjectID != "proj-b" {
		t.Fatalf("project id = %q, want proj-b", account.ProjectID)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
