// Package store persists gateway configuration and metering state in SQLite.
//
// DESIGN: The store backs the collaborators the relay core depends on:
//   - user records keyed by API key (balance, blocked flag)
//   - model records (channel binding, upstream name override, prices)
//   - channel records (vendor type, endpoint, credential)
//   - the usage ledger
//
// Balance mutation happens only through DebitBalance, a conditional
// single-statement decrement, so concurrent requests for the same user
// cannot drive the balance negative.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors returned by lookups and balance operations.
var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// User is an authenticated API consumer with a prepaid balance.
type User struct {
	ID      int64
	Name    string
	APIKey  string
	Balance float64
	Blocked bool
}

// Model maps a gateway-visible model identifier to a channel and a pair of
// per-1000-token prices.
type Model struct {
	ID            string
	UpstreamModel string // overrides ID on the wire when non-empty
	ChannelID     int64
	InputPrice    float64 // per 1000 input tokens
	OutputPrice   float64 // per 1000 output tokens
	Enabled       bool
}

// UpstreamName returns the model name to send upstream.
func (m *Model) UpstreamName() string {
	if m.UpstreamModel != "" {
		return m.UpstreamModel
	}
	return m.ID
}

// Channel is an administrator-configured binding to one vendor endpoint.
type Channel struct {
	ID         int64
	Name       string
	Vendor     string // "anthropic", "openai" or "gemini"
	BaseURL    string
	APIKey     string
	Headers    map[string]string // extra headers, applied verbatim
	APIVersion string            // anthropic-version value, anthropic only
	AWSRegion  string            // non-empty routes anthropic via Bedrock
	Enabled    bool
}

// UsageRecord is one ledger entry; the core emits exactly one per
// completed request.
type UsageRecord struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `json:"created_at"`
}

// ModelInfo is the public model listing entry with vendor attribution.
type ModelInfo struct {
	ID     string
	Vendor string
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL DEFAULT '',
	api_key  TEXT NOT NULL UNIQUE,
	balance  REAL NOT NULL DEFAULT 0,
	blocked  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS channels (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL DEFAULT '',
	vendor      TEXT NOT NULL,
	base_url    TEXT NOT NULL DEFAULT '',
	api_key     TEXT NOT NULL DEFAULT '',
	headers     TEXT NOT NULL DEFAULT '{}',
	api_version TEXT NOT NULL DEFAULT '',
	aws_region  TEXT NOT NULL DEFAULT '',
	enabled     INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS models (
	id             TEXT PRIMARY KEY,
	upstream_model TEXT NOT NULL DEFAULT '',
	channel_id     INTEGER NOT NULL REFERENCES channels(id),
	input_price    REAL NOT NULL DEFAULT 0,
	output_price   REAL NOT NULL DEFAULT 0,
	enabled        INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS usage_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id           INTEGER NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	cost              REAL NOT NULL,
	created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user ON usage_log(user_id, created_at);
`

// Open opens (creating if necessary) the gateway database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection to
	// avoid SQLITE_BUSY under concurrent settlements.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is usable (health endpoint).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// UserByKey looks up a user by API key. Returns ErrNotFound for unknown keys.
func (s *Store) UserByKey(apiKey string) (*User, error) {
	var u User
	var blocked int
	err := s.db.QueryRow(
		`SELECT id, name, api_key, balance, blocked FROM users WHERE api_key = ?`, apiKey,
	).Scan(&u.ID, &u.Name, &u.APIKey, &u.Balance, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Blocked = blocked != 0
	return &u, nil
}

// ModelByID looks up a model record. Returns ErrNotFound when absent.
func (s *Store) ModelByID(id string) (*Model, error) {
	var m Model
	var enabled int
	err := s.db.QueryRow(
		`SELECT id, upstream_model, channel_id, input_price, output_price, enabled
		 FROM models WHERE id = ?`, id,
	).Scan(&m.ID, &m.UpstreamModel, &m.ChannelID, &m.InputPrice, &m.OutputPrice, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query model: %w", err)
	}
	m.Enabled = enabled != 0
	return &m, nil
}

// ChannelByID looks up a channel record. Returns ErrNotFound when absent.
func (s *Store) ChannelByID(id int64) (*Channel, error) {
	var c Channel
	var headers string
	var enabled int
	err := s.db.QueryRow(
		`SELECT id, name, vendor, base_url, api_key, headers, api_version, aws_region, enabled
		 FROM channels WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Vendor, &c.BaseURL, &c.APIKey, &headers, &c.APIVersion, &c.AWSRegion, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	c.Enabled = enabled != 0
	if headers != "" {
		_ = json.Unmarshal([]byte(headers), &c.Headers)
	}
	return &c, nil
}

// EnabledModels lists enabled models whose channel is also enabled, with
// vendor attribution for the public model listing.
func (s *Store) EnabledModels() ([]ModelInfo, error) {
	rows, err := s.db.Query(
		`SELECT m.id, c.vendor FROM models m
		 JOIN channels c ON c.id = m.channel_id
		 WHERE m.enabled = 1 AND c.enabled = 1
		 ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var mi ModelInfo
		if err := rows.Scan(&mi.ID, &mi.Vendor); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}

// DebitBalance atomically decrements a user's balance by amount. The
// decrement only applies when the remaining balance covers it; otherwise
// ErrInsufficientFunds is returned and the balance is untouched. Returns
// the new balance on success.
func (s *Store) DebitBalance(userID int64, amount float64) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative debit amount %f", amount)
	}
	res, err := s.db.Exec(
		`UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM users WHERE id = ?`, userID).Scan(&exists); err == nil && exists == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrInsufficientFunds
	}
	var balance float64
	if err := s.db.QueryRow(`SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// AppendUsage appends one ledger entry.
func (s *Store) AppendUsage(rec *UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO usage_log (user_id, model, prompt_tokens, completion_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append usage: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// RecentUsage returns the newest ledger entries, most recent first.
func (s *Store) RecentUsage(limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, model, prompt_tokens, completion_tokens, cost, created_at
		 FROM usage_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Model, &rec.PromptTokens,
			&rec.CompletionTokens, &rec.Cost, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
