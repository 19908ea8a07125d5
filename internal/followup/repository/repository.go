// Package repository provides database operations for follow-up records.
// The single-active-record invariant is enforced by a partial unique
// index, so concurrent creators cannot race past the application check.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Statuses of a follow-up record.
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
)

// Record tracks the re-engagement state for one silent customer.
type Record struct {
	ID             int64      `db:"id"`
	CustomerID     string     `db:"customer_id"`
	Status         string     `db:"status"`
	FollowUpCount  int        `db:"follow_up_count"`
	LastFollowUpAt time.Time  `db:"last_follow_up_at"`
	StartedAt      time.Time  `db:"started_at"`
	StoppedAt      *time.Time `db:"stopped_at"`
	StopReason     *string    `db:"stop_reason"`
}

// Repository provides database operations for follow-ups.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new follow-up repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateIfAbsent starts a follow-up for a customer unless one is already
// active or one was already created for the current inactivity episode
// (started at or after the session's last activity). Returns whether a
// record was created.
func (r *Repository) CreateIfAbsent(ctx context.Context, customerID string, sinceActivity time.Time) (bool, error) {
	query := `INSERT INTO follow_ups (customer_id)
		SELECT $1
		WHERE NOT EXISTS (
			SELECT 1 FROM follow_ups
			WHERE customer_id = $1 AND (status = $2 OR started_at >= $3)
		)
		ON CONFLICT (customer_id) WHERE status = 'active' DO NOTHING`

	tag, err := r.pool.Exec(ctx, query, customerID, StatusActive, sinceActivity)
	if err != nil {
		return false, fmt.Errorf("failed to create follow-up: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Active returns the customer's active follow-up, or nil when none exists.
func (r *Repository) Active(ctx context.Context, customerID string) (*Record, error) {
	var rec Record
	query := `SELECT id, customer_id, status, follow_up_count, last_follow_up_at, started_at, stopped_at, stop_reason
		FROM follow_ups WHERE customer_id = $1 AND status = $2`

	err := r.pool.QueryRow(ctx, query, customerID, StatusActive).Scan(
		&rec.ID, &rec.CustomerID, &rec.Status, &rec.FollowUpCount,
		&rec.LastFollowUpAt, &rec.StartedAt, &rec.StoppedAt, &rec.StopReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active follow-up: %w", err)
	}

	return &rec, nil
}

// StopActive stops the customer's active follow-up. Returns whether a
// record was actually stopped, so racing stoppers resolve to one winner.
func (r *Repository) StopActive(ctx context.Context, customerID, reason string) (bool, error) {
	query := `UPDATE follow_ups
		SET status = $2, stop_reason = $3, stopped_at = now()
		WHERE customer_id = $1 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, customerID, StatusStopped, reason, StatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to stop follow-up: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DueForNudge lists active follow-ups whose last nudge (or creation) is
// older than the interval.
func (r *Repository) DueForNudge(ctx context.Context, interval time.Duration) ([]Record, error) {
	query := `SELECT id, customer_id, status, follow_up_count, last_follow_up_at, started_at, stopped_at, stop_reason
		FROM follow_ups
		WHERE status = $1 AND last_follow_up_at <= now() - ($2 * interval '1 second')
		ORDER BY last_follow_up_at`

	rows, err := r.pool.Query(ctx, query, StatusActive, interval.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to list due follow-ups: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.CustomerID, &rec.Status, &rec.FollowUpCount,
			&rec.LastFollowUpAt, &rec.StartedAt, &rec.StoppedAt, &rec.StopReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan follow-up: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// MarkNudged bumps the nudge counter and timestamp, returning the new
// count. Returns -1 when the record is no longer active.
func (r *Repository) MarkNudged(ctx context.Context, id int64) (int, error) {
	var count int
	query := `UPDATE follow_ups
		SET follow_up_count = follow_up_count + 1, last_follow_up_at = now()
		WHERE id = $1 AND status = $2
		RETURNING follow_up_count`

	err := r.pool.QueryRow(ctx, query, id, StatusActive).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return -1, nil
		}
		return -1, fmt.Errorf("failed to mark follow-up nudged: %w", err)
	}

	return count, nil
}

// StopByID stops one follow-up record by primary key.
func (r *Repository) StopByID(ctx context.Context, id int64, reason string) error {
	query := `UPDATE follow_ups
		SET status = $2, stop_reason = $3, stopped_at = now()
		WHERE id = $1 AND status = $4`

	if _, err := r.pool.Exec(ctx, query, id, StatusStopped, reason, StatusActive); err != nil {
		return fmt.Errorf("failed to stop follow-up: %w", err)
	}

	return nil
}
