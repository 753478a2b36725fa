package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nullstream-labs/genai-rotator/internal/credstore/cryptoenv"
	"github.com/nullstream-labs/genai-rotator/internal/credstore/vertexsa"
	log "github.com/sirupsen/logrus"
)

// geminiAPIKeysFile is the well-known file inside the Gemini directory.
const geminiAPIKeysFile = "api_keys.json"

// geminiKeysSkipMarker names Vertex directory entries that should never be
// parsed as service accounts even though they carry a .json extension.
const geminiKeysSkipMarker = "gemini_keys"

type geminiKeysEnvelope struct {
	EncryptedKeys []string       `json:"encrypted_keys"`
	Metadata      map[string]any `json:"metadata"`
}

// loadGemini reads <credsRoot>/gemini/api_keys.json. The file may be a plain
// JSON array of strings (accepted for backward compatibility, logged as a
// warning) or the {"encrypted_keys": [...]} envelope. A decryption failure
// for one element skips that element only; it never aborts the whole load.
func loadGemini(credsRoot string, key []byte) ([]*GeminiCredential, error) {
	path := filepath.Join(credsRoot, "gemini", geminiAPIKeysFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("credstore: read %s: %w", path, err)
	}

	var plain []string
	if err = json.Unmarshal(data, &plain); err == nil {
		log.Warnf("credstore: %s uses the plain key-list form; prefer the encrypted_keys envelope", path)
		return buildGeminiCredentials(plain), nil
	}

	var envelope geminiKeysEnvelope
	if err = json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("credstore: %s is neither a key list nor an encrypted envelope: %w", path, err)
	}

	out := make([]string, 0, len(envelope.EncryptedKeys))
	for i, ciphertext := range envelope.EncryptedKeys {
		if len(key) == 0 {
			log.Errorf("credstore: skipping encrypted key %d: no credential-encryption-key configured", i)
			continue
		}
		plaintext, errDecrypt := cryptoenv.Decrypt(ciphertext, key)
		if errDecrypt != nil {
			log.WithError(errDecrypt).Errorf("credstore: skipping encrypted key %d: decrypt failed", i)
			continue
		}
		out = append(out, plaintext)
	}
	return buildGeminiCredentials(out), nil
}

func buildGeminiCredentials(keys []string) []*GeminiCredential {
	out := make([]*GeminiCredential, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, &GeminiCredential{APIKey: k, KeyID: geminiKeyID(k)})
	}
	return out
}

// loadVertex reads every *.json file under <credsRoot>/vertex except ones
// whose name contains "gemini_keys". A credential appears in the pool only
// after its signing material has been successfully parsed; errors loading
// one file are logged and that file is skipped, never aborting the load.
func loadVertex(credsRoot string) ([]*VertexCredential, error) {
	dir := filepath.Join(credsRoot, "vertex")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("credstore: read %s: %w", dir, err)
	}

	out := make([]*VertexCredential, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		if strings.Contains(name, geminiKeysSkipMarker) {
			continue
		}
		path := filepath.Join(dir, name)
		raw, errRead := os.ReadFile(path)
		if errRead != nil {
			log.WithError(errRead).Warnf("credstore: skipping vertex file %s: read failed", name)
			continue
		}
		account, errParse := vertexsa.Parse(raw)
		if errParse != nil {
			log.WithError(errParse).Warnf("credstore: skipping vertex file %s: invalid service account", name)
			continue
		}
		out = append(out, &VertexCredential{
			ProjectID:          account.ProjectID,
			Email:              account.Email,
			ServiceAccountJSON: raw,
			SourcePath:         path,
		})
	}
	return out, nil
}
