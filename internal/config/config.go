// Package config loads and represents the rotator's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document for the rotator.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Services  ServicesConfig  `yaml:"services"`
	Security  SecurityConfig  `yaml:"security"`
	Paths     PathsConfig     `yaml:"paths"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Debug     bool            `yaml:"debug"`
}

// ServerConfig controls the listener the HTTP façade binds to.
type ServerConfig struct {
	Address  string    `yaml:"address"`
	TLS      TLSConfig `yaml:"tls"`
	ShutdownGraceSeconds int `yaml:"shutdown-grace-seconds"`
}

// TLSConfig is optional; when Enabled is false the server listens in plaintext.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert-file"`
	KeyFile  string `yaml:"key-file"`
}

// ServicesConfig describes upstream base URLs and retry policy.
type ServicesConfig struct {
	GeminiBaseURL      string `yaml:"gemini-base-url"`
	VertexBaseURL      string `yaml:"vertex-base-url"`
	MaxRetries         int    `yaml:"max-retries"`
	StoreRequestBodies bool   `yaml:"store-request-bodies"`
	// RetryableStatuses overrides the default {429,403,503} retryable set.
	// Open Question in the design notes around what constitutes "retryable"
	// is resolved by exposing this as an operator-controlled list; empty
	// means the default set applies.
	RetryableStatuses []int `yaml:"retryable-statuses"`
	UpstreamTimeoutSeconds int `yaml:"upstream-timeout-seconds"`
}

// SecurityConfig controls the IP allow-list middleware and the passphrase
// used to decrypt "encrypted_keys" envelopes in the Gemini credential file.
type SecurityConfig struct {
	AllowedClientIPs         []string `yaml:"allowed-client-ips"`
	TrustProxyHeaders        bool     `yaml:"trust-proxy-headers"`
	CredentialEncryptionKey  string   `yaml:"credential-encryption-key"`
}

// PathsConfig locates the credential tree on disk.
type PathsConfig struct {
	CredsRoot string `yaml:"creds-root"`
}

// DatabaseConfig is the telemetry sink's Postgres DSN.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

// TelemetryConfig tunes the LRO affinity cache and stream accumulation.
type TelemetryConfig struct {
	LROCacheCapacity    int `yaml:"lro-cache-capacity"`
	LROCacheTTLSeconds  int `yaml:"lro-cache-ttl-seconds"`
	StreamBufferCapBytes int64 `yaml:"stream-buffer-cap-bytes"`
}

// LoggingConfig configures the logrus/lumberjack pipeline.
type LoggingConfig struct {
	Dir             string `yaml:"dir"`
	MaxSizeMB       int    `yaml:"max-size-mb"`
	MaxBackups      int    `yaml:"max-backups"`
	MaxAgeDays      int    `yaml:"max-age-days"`
	MaxTotalSizeMB  int    `yaml:"max-total-size-mb"`
	Compress        bool   `yaml:"compress"`
}

const (
	defaultServerAddress        = ":8080"
	defaultGeminiBaseURL        = "https://generativelanguage.googleapis.com"
	defaultVertexBaseURL        = "https://us-central1-aiplatform.googleapis.com"
	defaultMaxRetries           = 10
	defaultUpstreamTimeoutSecs  = 120
	defaultLROCacheCapacity     = 4096
	defaultLROCacheTTLSeconds   = 3600
	defaultStreamBufferCapBytes = 4 * 1024 * 1024
	defaultShutdownGraceSeconds = 30
)

// DefaultRetryableStatuses is the status set the source treats as retryable.
// 403 conflates billing-disabled (non-retryable) with per-key quota
// (retryable); carried forward per the spec's open question, but operators
// may override it via services.retryable-statuses.
var DefaultRetryableStatuses = []int{429, 403, 503}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err = cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Address) == "" {
		c.Server.Address = defaultServerAddress
	}
	if c.Server.ShutdownGraceSeconds <= 0 {
		c.Server.ShutdownGraceSeconds = defaultShutdownGraceSeconds
	}
	if strings.TrimSpace(c.Services.GeminiBaseURL) == "" {
		c.Services.GeminiBaseURL = defaultGeminiBaseURL
	}
	if strings.TrimSpace(c.Services.VertexBaseURL) == "" {
		c.Services.VertexBaseURL = defaultVertexBaseURL
	}
	if c.Services.MaxRetries <= 0 {
		c.Services.MaxRetries = defaultMaxRetries
	}
	if c.Services.UpstreamTimeoutSeconds <= 0 {
		c.Services.UpstreamTimeoutSeconds = defaultUpstreamTimeoutSecs
	}
	if len(c.Security.AllowedClientIPs) == 0 {
		c.Security.AllowedClientIPs = []string{"*"}
	}
	if c.Telemetry.LROCacheCapacity <= 0 {
		c.Telemetry.LROCacheCapacity = defaultLROCacheCapacity
	}
	if c.Telemetry.LROCacheTTLSeconds <= 0 {
		c.Telemetry.LROCacheTTLSeconds = defaultLROCacheTTLSeconds
	}
	if c.Telemetry.StreamBufferCapBytes <= 0 {
		c.Telemetry.StreamBufferCapBytes = defaultStreamBufferCapBytes
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Paths.CredsRoot) == "" {
		return fmt.Errorf("paths.creds-root is required")
	}
	if c.Server.TLS.Enabled {
		if strings.TrimSpace(c.Server.TLS.CertFile) == "" || strings.TrimSpace(c.Server.TLS.KeyFile) == "" {
			return fmt.Errorf("server.tls.cert-file and server.tls.key-file are required when tls is enabled")
		}
	}
	return nil
}

// RetryableStatusSet returns the configured retryable-status set, falling
// back to DefaultRetryableStatuses when the operator left it unset.
func (c *Config) RetryableStatusSet() map[int]bool {
	statuses := c.Services.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	out := make(map[int]bool, len(statuses))
	for _, s := range statuses {
		out[s] = true
	}
	return out
}
