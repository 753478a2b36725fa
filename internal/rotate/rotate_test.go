package rotate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nullstream-labs/genai-rotator/internal/credstore"
)

func geminiStore(t *testing.T, keys []string) *credstore.Store {
	t.Helper()
	root := t.TempDir()
	raw, _ := json.Marshal(keys)
	dir := filepath.Join(root, "gemini")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "api_keys.json"), raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := credstore.NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return store
}

func TestGeminiRotatorEmptyPool(t *testing.T) {
	store := geminiStore(t, nil)
	r := NewGeminiRotator(store)
	if _, err := r.Next(); err != ErrPoolEmpty {
		t.Fatalf("err = %v, want ErrPoolEmpty", err)
	}
}

// TestGeminiRotatorFairness covers invariant 2: over K consecutive
// selections from a pool of size M, each credential is chosen floor(K/M)
// or ceil(K/M) times.
func TestGeminiRotatorFairness(t *testing.T) {
	store := geminiStore(t, []string{"KEY1", "KEY2", "KEY3"})
	r := NewGeminiRotator(store)

	counts := make(map[string]int)
	const k = 100
	for i := 0; i < k; i++ {
		cred, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		counts[cred.APIKey]++
	}
	if len(counts) != 3 {
		t.Fatalf("expected all 3 keys to be selected, got %d distinct", len(counts))
	}
	floor, ceil := k/3, (k+2)/3
	for key, count := range counts {
		if count != floor && count != ceil {
			t.Fatalf("key %s selected %d times, want %d or %d", key, count, floor, ceil)
		}
	}
}

func TestVertexRotatorByProjectID(t *testing.T) {
	root := t.TempDir()
	store := credstore.NewStore(root, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := NewVertexRotator(store)
	if _, ok := r.ByProjectID("missing"); ok {
		t.Fatal("expected cache miss for unknown project id")
	}
	if _, err := r.Next(); err != ErrPoolEmpty {
		t.Fatalf("err = %v, want ErrPoolEmpty", err)
	}
}
