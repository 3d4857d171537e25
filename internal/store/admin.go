package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Administrative CRUD. These back the configuration collaborator; the relay
// core only ever reads the records they create.

// CreateUser inserts a user and returns its ID.
func (s *Store) CreateUser(name, apiKey string, balance float64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (name, api_key, balance) VALUES (?, ?, ?)`,
		name, apiKey, balance,
	)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// SetUserBlocked flips a user's blocked flag.
func (s *Store) SetUserBlocked(userID int64, blocked bool) error {
	b := 0
	if blocked {
		b = 1
	}
	if _, err := s.db.Exec(`UPDATE users SET blocked = ? WHERE id = ?`, b, userID); err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	return nil
}

// CreditBalance adds funds to a user's balance (top-up path).
func (s *Store) CreditBalance(userID int64, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("negative credit amount %f", amount)
	}
	if _, err := s.db.Exec(`UPDATE users SET balance = balance + ? WHERE id = ?`, amount, userID); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// CreateChannel inserts a channel and returns its ID.
func (s *Store) CreateChannel(c *Channel) (int64, error) {
	headers := "{}"
	if len(c.Headers) > 0 {
		raw, err := json.Marshal(c.Headers)
		if err != nil {
			return 0, fmt.Errorf("encode headers: %w", err)
		}
		headers = string(raw)
	}
	enabled := 0
	if c.Enabled {
		enabled = 1
	}
	res, err := s.db.Exec(
		`INSERT INTO channels (name, vendor, base_url, api_key, headers, api_version, aws_region, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Vendor, c.BaseURL, c.APIKey, headers, c.APIVersion, c.AWSRegion, enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("create channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// UpsertModel inserts or replaces a model record.
func (s *Store) UpsertModel(m *Model) error {
	enabled := 0
	if m.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO models (id, upstream_model, channel_id, input_price, output_price, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   upstream_model = excluded.upstream_model,
		   channel_id     = excluded.channel_id,
		   input_price    = excluded.input_price,
		   output_price   = excluded.output_price,
		   enabled        = excluded.enabled`,
		m.ID, m.UpstreamModel, m.ChannelID, m.InputPrice, m.OutputPrice, enabled,
	)
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

// UsageSince sums ledger cost for a user from a point in time (reporting).
func (s *Store) UsageSince(userID int64, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(cost), 0) FROM usage_log WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}
