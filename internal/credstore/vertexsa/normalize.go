// Package vertexsa normalizes Google service-account JSON documents loaded
// from the Vertex credential tree, repairing the private_key PEM block when
// it has been mangled by copy/paste or environment-variable escaping.
package vertexsa

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
)

// Account is a parsed and normalized Vertex service account.
type Account struct {
	ProjectID  string
	Email      string
	PrivateKey string
	Raw        map[string]any
}

// Parse normalizes raw service-account JSON and extracts the fields the
// credential store and token cacher need. A credential without project_id
// or signing material is rejected here, at load time, rather than at use
// time.
func Parse(raw []byte) (*Account, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("vertexsa: invalid json: %w", err)
	}
	normalized, err := normalizeMap(payload)
	if err != nil {
		return nil, err
	}
	projectID, _ := normalized["project_id"].(string)
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("vertexsa: missing project_id")
	}
	email, _ := normalized["client_email"].(string)
	privateKey, _ := normalized["private_key"].(string)
	return &Account{
		ProjectID:  projectID,
		Email:      email,
		PrivateKey: privateKey,
		Raw:        normalized,
	}, nil
}

// normalizeMap returns a copy of sa with a sanitized private_key field that
// is guaranteed to contain a valid RSA PRIVATE KEY PEM block.
func normalizeMap(sa map[string]any) (map[string]any, error) {
	if sa == nil {
		return nil, fmt.Errorf("vertexsa: service account payload is empty")
	}
	pk, _ := sa["private_key"].(string)
	if strings.TrimSpace(pk) == "" {
		return nil, fmt.Errorf("vertexsa: missing private_key")
	}
	sanitized, err := sanitizePrivateKey(pk)
	if err != nil {
		return nil, err
	}
	clone := make(map[string]any, len(sa))
	for k, v := range sa {
		clone[k] = v
	}
	clone["private_key"] = sanitized
	return clone, nil
}

func sanitizePrivateKey(raw string) (string, error) {
	pk := strings.ReplaceAll(raw, `\n`, "\n")
	pk = strings.ReplaceAll(pk, "\r\n", "\n")
	pk = strings.ReplaceAll(pk, "\r", "\n")
	pk = strings.ToValidUTF8(pk, "")
	pk = strings.TrimSpace(pk)

	normalized := pk
	if block, _ := pem.Decode([]byte(pk)); block == nil {
		reconstructed, err := rebuildPEM(pk)
		if err != nil {
			return "", fmt.Errorf("vertexsa: private_key is not valid pem: %w", err)
		}
		normalized = reconstructed
	}

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return "", fmt.Errorf("vertexsa: private_key pem decode failed")
	}
	rsaBlock, err := ensureRSAPrivateKey(block)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(rsaBlock)), nil
}

func ensureRSAPrivateKey(block *pem.Block) (*pem.Block, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
			return nil, fmt.Errorf("vertexsa: private_key invalid rsa: %w", err)
		}
		return block, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("vertexsa: private_key invalid pkcs8: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("vertexsa: private_key is not an RSA key")
		}
		return &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}, nil
	}

	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}, nil
		}
	}
	return nil, fmt.Errorf("vertexsa: private_key uses unsupported format")
}

func rebuildPEM(raw string) (string, error) {
	kind := "PRIVATE KEY"
	if strings.Contains(raw, "RSA PRIVATE KEY") {
		kind = "RSA PRIVATE KEY"
	}
	header := "-----BEGIN " + kind + "-----"
	footer := "-----END " + kind + "-----"
	start := strings.Index(raw, header)
	end := strings.Index(raw, footer)
	if start < 0 || end <= start {
		return "", fmt.Errorf("vertexsa: missing pem markers")
	}
	payload := filterBase64(raw[start+len(header) : end])
	if payload == "" {
		return "", fmt.Errorf("vertexsa: private_key base64 payload empty")
	}
	der, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("vertexsa: private_key base64 decode failed: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: der})), nil
}

func filterBase64(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+' || r == '/' || r == '=':
			b.WriteRune(r)
		}
	}
	return b.String()
}
