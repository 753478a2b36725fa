package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	apiKeysTable  = "api_keys"
	modelsTable   = "models"
	attemptsTable = "attempt_records"
)

// SinkConfig configures the Postgres-backed attempt store.
type SinkConfig struct {
	DSN    string
	Schema string
}

// Sink writes AttemptRecords to Postgres and caches the foreign-key rows
// (api key id, model id) in-process so repeat sightings skip a round-trip.
// Concurrent first-sightings of the same key/model are tolerated: the
// unique constraint picks one winner and the loser reads the winner's id
// back, per the foreign-key invariant.
type Sink struct {
	db     *sql.DB
	schema string

	keyIDsMu sync.Mutex
	keyIDs   map[string]int64

	modelIDsMu sync.Mutex
	modelIDs   map[string]int64
}

// NewSink opens the database connection and verifies connectivity.
func NewSink(ctx context.Context, cfg SinkConfig) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("telemetry: DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("telemetry: ping database: %w", err)
	}
	return &Sink{
		db:       db,
		schema:   strings.TrimSpace(cfg.Schema),
		keyIDs:   make(map[string]int64),
		modelIDs: make(map[string]int64),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database round-trips a SELECT 1, for the health
// probe.
func (s *Sink) Ping(ctx context.Context) bool {
	if s == nil || s.db == nil {
		return false
	}
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil && one == 1
}

// EnsureSchema creates the attempt-records table and its foreign-key
// tables if they do not already exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if schema := s.schema; schema != "" {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))); err != nil {
			return fmt.Errorf("telemetry: create schema: %w", err)
		}
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			key_id TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.fullTableName(apiKeysTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.fullTableName(modelsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			api_key_id BIGINT NOT NULL REFERENCES %s(id),
			model_id BIGINT NOT NULL REFERENCES %s(id),
			provider TEXT NOT NULL,
			action TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			client_ip TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			status_code INT NOT NULL,
			latency_ms BIGINT NOT NULL,
			attempt_index INT NOT NULL,
			prompt_tokens BIGINT,
			candidates_tokens BIGINT,
			total_tokens BIGINT,
			request_body JSONB,
			response_body JSONB,
			request_size BIGINT NOT NULL,
			response_size BIGINT NOT NULL,
			is_error BOOLEAN NOT NULL,
			error_detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.fullTableName(attemptsTable), s.fullTableName(apiKeysTable), s.fullTableName(modelsTable)),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("telemetry: ensure schema: %w", err)
		}
	}
	return nil
}

// Insert writes rec, resolving/creating its foreign-key rows first. Any
// failure is logged and swallowed: telemetry is best-effort and must never
// surface to the client.
func (s *Sink) Insert(ctx context.Context, rec AttemptRecord) {
	keyRowID, err := s.resolveKeyID(ctx, rec.KeyID)
	if err != nil {
		log.WithError(err).Warn("telemetry: resolve api key id failed, dropping record")
		return
	}
	modelRowID, err := s.resolveModelID(ctx, rec.Model)
	if err != nil {
		log.WithError(err).Warn("telemetry: resolve model id failed, dropping record")
		return
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			api_key_id, model_id, provider, action, method, path, client_ip, user_agent,
			status_code, latency_ms, attempt_index, prompt_tokens, candidates_tokens, total_tokens,
			request_body, response_body, request_size, response_size, is_error, error_detail, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, s.fullTableName(attemptsTable))

	var reqBody, respBody any
	if len(rec.RequestBody) > 0 {
		reqBody = rec.RequestBody
	}
	if len(rec.ResponseBody) > 0 {
		respBody = rec.ResponseBody
	}

	_, err = s.db.ExecContext(ctx, query,
		keyRowID, modelRowID, rec.Provider, rec.Action, rec.Method, rec.Path, rec.ClientIP, rec.UserAgent,
		rec.StatusCode, rec.LatencyMS, rec.AttemptIndex, rec.PromptTokens, rec.CandidatesTokens, rec.TotalTokens,
		reqBody, respBody, rec.RequestSize, rec.ResponseSize, rec.IsError, rec.ErrorDetail, rec.CreatedAt,
	)
	if err != nil {
		log.WithError(err).Warn("telemetry: insert attempt record failed")
	}
}

func (s *Sink) resolveKeyID(ctx context.Context, keyID string) (int64, error) {
	if keyID == "" {
		keyID = "unknown"
	}
	s.keyIDsMu.Lock()
	if id, ok := s.keyIDs[keyID]; ok {
		s.keyIDsMu.Unlock()
		return id, nil
	}
	s.keyIDsMu.Unlock()

	id, err := s.upsertNamed(ctx, apiKeysTable, "key_id", keyID)
	if err != nil {
		return 0, err
	}
	s.keyIDsMu.Lock()
	s.keyIDs[keyID] = id
	s.keyIDsMu.Unlock()
	return id, nil
}

func (s *Sink) resolveModelID(ctx context.Context, model string) (int64, error) {
	if model == "" {
		model = "unknown"
	}
	s.modelIDsMu.Lock()
	if id, ok := s.modelIDs[model]; ok {
		s.modelIDsMu.Unlock()
		return id, nil
	}
	s.modelIDsMu.Unlock()

	id, err := s.upsertNamed(ctx, modelsTable, "name", model)
	if err != nil {
		return 0, err
	}
	s.modelIDsMu.Lock()
	s.modelIDs[model] = id
	s.modelIDsMu.Unlock()
	return id, nil
}

// upsertNamed inserts value into column on table, returning its row id.
// On a unique-constraint race, ON CONFLICT DO UPDATE is a no-op write that
// still lets RETURNING hand back the winner's id to the losing goroutine.
func (s *Sink) upsertNamed(ctx context.Context, table, column, value string) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1)
		ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s
		RETURNING id
	`, s.fullTableName(table), quoteIdentifier(column), quoteIdentifier(column), quoteIdentifier(column), quoteIdentifier(column))
	var id int64
	if err := s.db.QueryRowContext(ctx, query, value).Scan(&id); err != nil {
		return 0, fmt.Errorf("telemetry: upsert %s=%s: %w", column, value, err)
	}
	return id, nil
}

func (s *Sink) fullTableName(name string) string {
	if s.schema == "" {
		return quoteIdentifier(name)
	}
	return quoteIdentifier(s.schema) + "." + quoteIdentifier(name)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, `"`, `""`)
	return `"` + replaced + `"`
}
