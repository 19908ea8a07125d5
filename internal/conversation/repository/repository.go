// Package repository provides database operations for conversation
// records, sessions and their message history.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach_backend/platform/apperr"
)

// Data-collection stages of a conversation record.
const (
	StageNone                     = "none"
	StageNamePending              = "name_pending"
	StageWaitingName              = "waiting_name"
	StageWaitingNameAfterInterest = "waiting_name_after_interest"
	StageNameCollected            = "name_collected"
	StageEmailPendingForSupport   = "email_pending_for_support"
	StageComplete                 = "complete"
)

// Session handling modes.
const (
	ModeBot     = "bot"
	ModeHuman   = "human"
	ModeSupport = "support"
)

// Record is the durable per-customer conversation record.
type Record struct {
	CustomerID               string    `db:"customer_id"`
	DataStage                string    `db:"data_stage"`
	Name                     *string   `db:"name"`
	Email                    *string   `db:"email"`
	PendingSupportActivation bool      `db:"pending_support_activation"`
	CreatedAt                time.Time `db:"created_at"`
	UpdatedAt                time.Time `db:"updated_at"`
}

// Session tracks activity and handling mode per (customer, channel).
type Session struct {
	CustomerID   string    `db:"customer_id"`
	ChannelID    string    `db:"channel_id"`
	Mode         string    `db:"mode"`
	LastActivity time.Time `db:"last_activity"`
	CreatedAt    time.Time `db:"created_at"`
}

// Message is one persisted conversation turn.
type Message struct {
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// Repository provides database operations for conversations.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new conversation repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRecord retrieves a customer's conversation record.
func (r *Repository) GetRecord(ctx context.Context, customerID string) (*Record, error) {
	var rec Record
	query := `SELECT customer_id, data_stage, name, email, pending_support_activation, created_at, updated_at
		FROM conversation_records WHERE customer_id = $1`

	err := r.pool.QueryRow(ctx, query, customerID).Scan(
		&rec.CustomerID, &rec.DataStage, &rec.Name, &rec.Email,
		&rec.PendingSupportActivation, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("conversation record not found")
		}
		return nil, fmt.Errorf("failed to get conversation record: %w", err)
	}

	return &rec, nil
}

// CreateRecord inserts a fresh record for a new customer. Creation is
// idempotent so racing message handlers cannot produce duplicates.
func (r *Repository) CreateRecord(ctx context.Context, customerID string) (*Record, error) {
	query := `INSERT INTO conversation_records (customer_id, data_stage)
		VALUES ($1, $2)
		ON CONFLICT (customer_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, customerID, StageNone); err != nil {
		return nil, fmt.Errorf("failed to create conversation record: %w", err)
	}

	return r.GetRecord(ctx, customerID)
}

// UpdateStage moves a record to a new data-collection stage.
func (r *Repository) UpdateStage(ctx context.Context, customerID, stage string) error {
	query := `UPDATE conversation_records SET data_stage = $2, updated_at = now() WHERE customer_id = $1`

	if _, err := r.pool.Exec(ctx, query, customerID, stage); err != nil {
		return fmt.Errorf("failed to update data stage: %w", err)
	}

	return nil
}

// SetName persists the captured name and advances the stage.
func (r *Repository) SetName(ctx context.Context, customerID, name string) error {
	query := `UPDATE conversation_records SET name = $2, data_stage = $3, updated_at = now() WHERE customer_id = $1`

	if _, err := r.pool.Exec(ctx, query, customerID, name, StageNameCollected); err != nil {
		return fmt.Errorf("failed to set name: %w", err)
	}

	return nil
}

// SetEmail persists the captured email.
func (r *Repository) SetEmail(ctx context.Context, customerID, email string) error {
	query := `UPDATE conversation_records SET email = $2, updated_at = now() WHERE customer_id = $1`

	if _, err := r.pool.Exec(ctx, query, customerID, email); err != nil {
		return fmt.Errorf("failed to set email: %w", err)
	}

	return nil
}

// SetPendingSupport flips the pending-support flag.
func (r *Repository) SetPendingSupport(ctx context.Context, customerID string, pending bool) error {
	query := `UPDATE conversation_records SET pending_support_activation = $2, updated_at = now() WHERE customer_id = $1`

	if _, err := r.pool.Exec(ctx, query, customerID, pending); err != nil {
		return fmt.Errorf("failed to set pending support flag: %w", err)
	}

	return nil
}

// TouchSession creates the session on first contact and refreshes
// last_activity on every message after that.
func (r *Repository) TouchSession(ctx context.Context, customerID, channelID string) (*Session, error) {
	var sess Session
	query := `INSERT INTO sessions (customer_id, channel_id)
		VALUES ($1, $2)
		ON CONFLICT (customer_id, channel_id) DO UPDATE SET last_activity = now()
		RETURNING customer_id, channel_id, mode, last_activity, created_at`

	err := r.pool.QueryRow(ctx, query, customerID, channelID).Scan(
		&sess.CustomerID, &sess.ChannelID, &sess.Mode, &sess.LastActivity, &sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	return &sess, nil
}

// GetSession retrieves one session.
func (r *Repository) GetSession(ctx context.Context, customerID, channelID string) (*Session, error) {
	var sess Session
	query := `SELECT customer_id, channel_id, mode, last_activity, created_at
		FROM sessions WHERE customer_id = $1 AND channel_id = $2`

	err := r.pool.QueryRow(ctx, query, customerID, channelID).Scan(
		&sess.CustomerID, &sess.ChannelID, &sess.Mode, &sess.LastActivity, &sess.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &sess, nil
}

// SetMode changes the handling mode for every session of a customer.
func (r *Repository) SetMode(ctx context.Context, customerID, mode string) error {
	query := `UPDATE sessions SET mode = $2 WHERE customer_id = $1`

	if _, err := r.pool.Exec(ctx, query, customerID, mode); err != nil {
		return fmt.Errorf("failed to set session mode: %w", err)
	}

	return nil
}

// AppendMessage persists one turn of the conversation history.
func (r *Repository) AppendMessage(ctx context.Context, customerID, channelID, role, content string) error {
	query := `INSERT INTO session_messages (customer_id, channel_id, role, content) VALUES ($1, $2, $3, $4)`

	if _, err := r.pool.Exec(ctx, query, customerID, channelID, role, content); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

// RecentMessages returns the last limit turns in chronological order.
func (r *Repository) RecentMessages(ctx context.Context, customerID, channelID string, limit int) ([]Message, error) {
	query := `SELECT role, content, created_at FROM (
			SELECT role, content, created_at, id FROM session_messages
			WHERE customer_id = $1 AND channel_id = $2
			ORDER BY id DESC LIMIT $3
		) recent ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, customerID, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// StaleSessions lists bot-mode sessions idle for at least threshold.
func (r *Repository) StaleSessions(ctx context.Context, threshold time.Duration) ([]Session, error) {
	query := `SELECT customer_id, channel_id, mode, last_activity, created_at
		FROM sessions
		WHERE mode = $1 AND last_activity <= now() - ($2 * interval '1 second')`

	rows, err := r.pool.Query(ctx, query, ModeBot, threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.CustomerID, &s.ChannelID, &s.Mode, &s.LastActivity, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
