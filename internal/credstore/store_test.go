package credstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/nullstream-labs/genai-rotator/internal/credstore/cryptoenv"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func servicAccountPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}))
}

func TestLoadGeminiPlainList(t *testing.T) {
	root := t.TempDir()
	raw, _ := json.Marshal([]string{"KEY_AAAA1111", "KEY_BBBB2222"})
	writeFile(t, filepath.Join(root, "gemini", "api_keys.json"), raw)

	store := NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pool := store.GeminiPool()
	if len(pool) != 2 {
		t.Fatalf("pool size = %d, want 2", len(pool))
	}
	if pool[0].KeyID != "...1111" {
		t.Fatalf("key id = %q, want ...1111", pool[0].KeyID)
	}
}

func TestLoadGeminiEncryptedEnvelopeSkipsBadElement(t *testing.T) {
	root := t.TempDir()
	key, _ := cryptoenv.DeriveKey("passphrase")
	good, _ := cryptoenv.Encrypt("GOODKEY0001", key)

	envelope := map[string]any{
		"encrypted_keys": []string{good, "not-valid-base64-ciphertext"},
		"metadata":       map[string]any{"encrypted": true, "version": "1.0", "original_count": 2},
	}
	raw, _ := json.Marshal(envelope)
	writeFile(t, filepath.Join(root, "gemini", "api_keys.json"), raw)

	store := NewStore(root, key)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pool := store.GeminiPool()
	if len(pool) != 1 {
		t.Fatalf("pool size = %d, want 1 (bad element skipped)", len(pool))
	}
	if pool[0].APIKey != "GOODKEY0001" {
		t.Fatalf("decrypted key = %q, want GOODKEY0001", pool[0].APIKey)
	}
}

func TestLoadVertexSkipsGeminiKeysFile(t *testing.T) {
	root := t.TempDir()
	sa := map[string]any{
		"project_id":   "proj-a",
		"private_key":  servicAccountPEM(t),
		"client_email": "svc@proj-a.iam.gserviceaccount.com",
	}
	raw, _ := json.Marshal(sa)
	writeFile(t, filepath.Join(root, "vertex", "account.json"), raw)
	writeFile(t, filepath.Join(root, "vertex", "gemini_keys_backup.json"), raw)

	store := NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pool := store.VertexPool()
	if len(pool) != 1 {
		t.Fatalf("pool size = %d, want 1 (gemini_keys file skipped)", len(pool))
	}
	if pool[0].ProjectID != "proj-a" {
		t.Fatalf("project id = %q, want proj-a", pool[0].ProjectID)
	}
}

func TestLoadVertexSkipsInvalidServiceAccount(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vertex", "broken.json"), []byte(`{"project_id":"p"}`))
	sa := map[string]any{
		"project_id":   "proj-b",
		"private_key":  servicAccountPEM(t),
		"client_email": "svc@proj-b.iam.gserviceaccount.com",
	}
	raw, _ := json.Marshal(sa)
	writeFile(t, filepath.Join(root, "vertex", "good.json"), raw)

	store := NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pool := store.VertexPool()
	if len(pool) != 1 {
		t.Fatalf("pool size = %d, want 1 (broken file skipped)", len(pool))
	}
}

func TestLoadEmptyDirsYieldsEmptyPools(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(store.GeminiPool()) != 0 || len(store.VertexPool()) != 0 {
		t.Fatal("expected empty pools when creds root has no gemini/vertex subdirectories")
	}
}

func TestLoadIdempotentUnderUnchangedFilesystem(t *testing.T) {
	root := t.TempDir()
	raw, _ := json.Marshal([]string{"KEY_AAAA1111"})
	writeFile(t, filepath.Join(root, "gemini", "api_keys.json"), raw)

	store := NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	first := store.GeminiPool()
	if err := store.Load(); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	second := store.GeminiPool()
	if len(first) != len(second) || first[0].APIKey != second[0].APIKey {
		t.Fatal("two loads of an unchanged filesystem should yield identical pool content")
	}
}
