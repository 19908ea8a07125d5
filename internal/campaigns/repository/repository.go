// Package repository provides database operations for campaigns,
// contacts, calls, transcripts and appointments.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach_backend/platform/apperr"
)

// Campaign statuses.
const (
	CampaignPending   = "pending"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Contact call statuses.
const (
	ContactPending   = "pending"
	ContactCalling   = "calling"
	ContactInCall    = "in_call"
	ContactCompleted = "completed"
	ContactFailed    = "failed"
	ContactNoAnswer  = "no_answer"
)

// Campaign is a batch of outbound call targets.
type Campaign struct {
	ID                    uuid.UUID  `db:"id"`
	Name                  string     `db:"name"`
	CSVFilename           *string    `db:"csv_filename"`
	Status                string     `db:"status"`
	TotalContacts         int        `db:"total_contacts"`
	CallsCompleted        int        `db:"calls_completed"`
	CallsPending          int        `db:"calls_pending"`
	CallsFailed           int        `db:"calls_failed"`
	AppointmentsScheduled int        `db:"appointments_scheduled"`
	StartedAt             *time.Time `db:"started_at"`
	CompletedAt           *time.Time `db:"completed_at"`
	CreatedAt             time.Time  `db:"created_at"`
}

// Contact is one call target with its property attributes.
type Contact struct {
	ID               uuid.UUID  `db:"id"`
	CampaignID       uuid.UUID  `db:"campaign_id"`
	Phone            string     `db:"phone"`
	Name             string     `db:"name"`
	PropertyType     *string    `db:"property_type"`
	PropertyLocation *string    `db:"property_location"`
	PropertySize     *string    `db:"property_size"`
	PropertyPrice    *string    `db:"property_price"`
	ExtraInfo        *string    `db:"extra_info"`
	CallStatus       string     `db:"call_status"`
	CallAttempts     int        `db:"call_attempts"`
	InterestLevel    *string    `db:"interest_level"`
	LastAttemptAt    *time.Time `db:"last_attempt_at"`
}

// Call is one originated call for a contact.
type Call struct {
	ID              uuid.UUID  `db:"id"`
	ContactID       uuid.UUID  `db:"contact_id"`
	CampaignID      uuid.UUID  `db:"campaign_id"`
	Phone           string     `db:"phone"`
	ChannelID       *string    `db:"channel_id"`
	Status          string     `db:"status"`
	StartedAt       time.Time  `db:"started_at"`
	EndedAt         *time.Time `db:"ended_at"`
	DurationSeconds int        `db:"duration_seconds"`
}

// Turn is one transcript entry of a call.
type Turn struct {
	Sequence  int       `db:"sequence"`
	Speaker   string    `db:"speaker"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// Appointment is a scheduled visit derived from a call.
type Appointment struct {
	ID               uuid.UUID  `db:"id"`
	CallID           *uuid.UUID `db:"call_id"`
	ContactID        *uuid.UUID `db:"contact_id"`
	CampaignID       *uuid.UUID `db:"campaign_id"`
	Phone            string     `db:"phone"`
	ClientName       string     `db:"client_name"`
	AppointmentDate  *string    `db:"appointment_date"`
	AppointmentTime  *string    `db:"appointment_time"`
	InterestLevel    *string    `db:"interest_level"`
	AgreementReached bool       `db:"agreement_reached"`
	Status           string     `db:"status"`
	CreatedAt        time.Time  `db:"created_at"`
}

// Repository provides database operations for the voice campaign domain.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new campaigns repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =============================================================================
// Campaigns
// =============================================================================

// CreateCampaign inserts a campaign with its contacts in one transaction.
func (r *Repository) CreateCampaign(ctx context.Context, campaign *Campaign, contacts []Contact) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	query := `INSERT INTO campaigns (id, name, csv_filename, status, total_contacts, calls_pending)
		VALUES ($1, $2, $3, $4, $5, $5)`
	if _, err := tx.Exec(ctx, query,
		campaign.ID, campaign.Name, campaign.CSVFilename, CampaignPending, len(contacts),
	); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range contacts {
		batch.Queue(`INSERT INTO contacts (
				id, campaign_id, phone, name, property_type, property_location,
				property_size, property_price, extra_info
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, campaign.ID, c.Phone, c.Name, c.PropertyType, c.PropertyLocation,
			c.PropertySize, c.PropertyPrice, c.ExtraInfo,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert contacts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit campaign: %w", err)
	}

	return nil
}

const campaignColumns = `id, name, csv_filename, status, total_contacts, calls_completed,
	calls_pending, calls_failed, appointments_scheduled, started_at, completed_at, created_at`

func scanCampaign(row pgx.Row) (*Campaign, error) {
	var c Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.CSVFilename, &c.Status, &c.TotalContacts, &c.CallsCompleted,
		&c.CallsPending, &c.CallsFailed, &c.AppointmentsScheduled, &c.StartedAt,
		&c.CompletedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaign retrieves one campaign.
func (r *Repository) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("campaign not found")
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return c, nil
}

// ListCampaigns lists all campaigns, newest first.
func (r *Repository) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, rows.Err()
}

// RunningCampaigns lists campaigns currently in the running state, in
// creation order so dispatch is fair across campaigns.
func (r *Repository) RunningCampaigns(ctx context.Context) ([]Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, CampaignRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, rows.Err()
}

// SetCampaignStatus moves a campaign to a new status, stamping started_at
// and completed_at at the matching transitions.
func (r *Repository) SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE campaigns SET status = $2,
		started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		completed_at = CASE WHEN $2 IN ('completed', 'cancelled') THEN now() ELSE completed_at END
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("campaign not found")
	}

	return nil
}

// DeleteCampaign removes a campaign and everything under it.
func (r *Repository) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("campaign not found")
	}

	return nil
}

// RefreshCampaignStats recomputes the denormalized counters from the
// contact and appointment rows.
func (r *Repository) RefreshCampaignStats(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE campaigns SET
		calls_completed = (SELECT count(*) FROM contacts WHERE campaign_id = $1 AND call_status = 'completed'),
		calls_pending = (SELECT count(*) FROM contacts WHERE campaign_id = $1 AND call_status = 'pending'),
		calls_failed = (SELECT count(*) FROM contacts WHERE campaign_id = $1 AND call_status IN ('failed', 'no_answer')),
		appointments_scheduled = (SELECT count(*) FROM appointments WHERE campaign_id = $1)
		WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to refresh campaign stats: %w", err)
	}

	return nil
}

// =============================================================================
// Contacts
// =============================================================================

const contactColumns = `id, campaign_id, phone, name, property_type, property_location,
	property_size, property_price, extra_info, call_status, call_attempts, interest_level, last_attempt_at`

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.Phone, &c.Name, &c.PropertyType, &c.PropertyLocation,
		&c.PropertySize, &c.PropertyPrice, &c.ExtraInfo, &c.CallStatus, &c.CallAttempts,
		&c.InterestLevel, &c.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClaimNextPending atomically pops the oldest pending contact of a
// campaign, marking it calling and counting the attempt. SKIP LOCKED
// keeps concurrent dispatchers from double-claiming a contact. Returns
// nil when no pending contacts remain.
func (r *Repository) ClaimNextPending(ctx context.Context, campaignID uuid.UUID) (*Contact, error) {
	query := `UPDATE contacts
		SET call_status = $2, call_attempts = call_attempts + 1, last_attempt_at = now()
		WHERE id = (
			SELECT id FROM contacts
			WHERE campaign_id = $1 AND call_status = $3
			ORDER BY ordinal
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + contactColumns

	c, err := scanContact(r.pool.QueryRow(ctx, query, campaignID, ContactCalling, ContactPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim pending contact: %w", err)
	}

	return c, nil
}

// GetContact retrieves one contact.
func (r *Repository) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`

	c, err := scanContact(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("contact not found")
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return c, nil
}

// SetContactStatus updates a contact's call status.
func (r *Repository) SetContactStatus(ctx context.Context, id uuid.UUID, status string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE contacts SET call_status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("failed to set contact status: %w", err)
	}
	return nil
}

// SetContactInterest stores the interest level derived from a call.
func (r *Repository) SetContactInterest(ctx context.Context, id uuid.UUID, level string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE contacts SET interest_level = $2 WHERE id = $1`, id, level); err != nil {
		return fmt.Errorf("failed to set contact interest: %w", err)
	}
	return nil
}

// CountPending returns how many contacts of a campaign are still pending.
func (r *Repository) CountPending(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	query := `SELECT count(*) FROM contacts WHERE campaign_id = $1 AND call_status = $2`
	if err := r.pool.QueryRow(ctx, query, campaignID, ContactPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending contacts: %w", err)
	}
	return n, nil
}

// =============================================================================
// Calls and transcripts
// =============================================================================

// CreateCall records a new originated call.
func (r *Repository) CreateCall(ctx context.Context, call *Call) error {
	query := `INSERT INTO calls (id, contact_id, campaign_id, phone, status) VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.pool.Exec(ctx, query, call.ID, call.ContactID, call.CampaignID, call.Phone, call.Status); err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// SetCallChannel attaches the telephony channel id once the call is up.
func (r *Repository) SetCallChannel(ctx context.Context, id uuid.UUID, channelID string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE calls SET channel_id = $2 WHERE id = $1`, id, channelID); err != nil {
		return fmt.Errorf("failed to set call channel: %w", err)
	}
	return nil
}

// EndCall records the terminal status and duration of a call.
func (r *Repository) EndCall(ctx context.Context, id uuid.UUID, status string, duration time.Duration) error {
	query := `UPDATE calls SET status = $2, ended_at = now(), duration_seconds = $3 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, status, int(duration.Seconds())); err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}

	return nil
}

// ListCampaignCalls lists the calls of a campaign, newest first.
func (r *Repository) ListCampaignCalls(ctx context.Context, campaignID uuid.UUID) ([]Call, error) {
	query := `SELECT id, contact_id, campaign_id, phone, channel_id, status, started_at, ended_at, duration_seconds
		FROM calls WHERE campaign_id = $1 ORDER BY started_at DESC`

	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(
			&c.ID, &c.ContactID, &c.CampaignID, &c.Phone, &c.ChannelID, &c.Status,
			&c.StartedAt, &c.EndedAt, &c.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, c)
	}

	return calls, rows.Err()
}

// AddTranscriptTurn appends one turn to a call's transcript.
func (r *Repository) AddTranscriptTurn(ctx context.Context, callID uuid.UUID, sequence int, speaker, content string) error {
	query := `INSERT INTO transcript_turns (call_id, sequence, speaker, content) VALUES ($1, $2, $3, $4)`

	if _, err := r.pool.Exec(ctx, query, callID, sequence, speaker, content); err != nil {
		return fmt.Errorf("failed to add transcript turn: %w", err)
	}

	return nil
}

// GetTranscript returns a call's transcript in turn order.
func (r *Repository) GetTranscript(ctx context.Context, callID uuid.UUID) ([]Turn, error) {
	query := `SELECT sequence, speaker, content, created_at
		FROM transcript_turns WHERE call_id = $1 ORDER BY sequence`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Sequence, &t.Speaker, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript turn: %w", err)
		}
		turns = append(turns, t)
	}

	return turns, rows.Err()
}

// =============================================================================
// Appointments
// =============================================================================

const appointmentColumns = `id, call_id, contact_id, campaign_id, phone, client_name,
	appointment_date, appointment_time, interest_level, agreement_reached, status, created_at`

// CreateAppointment stores an appointment derived from a call.
func (r *Repository) CreateAppointment(ctx context.Context, a *Appointment) error {
	query := `INSERT INTO appointments (
			id, call_id, contact_id, campaign_id, phone, client_name,
			appointment_date, appointment_time, interest_level, agreement_reached
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.CallID, a.ContactID, a.CampaignID, a.Phone, a.ClientName,
		a.AppointmentDate, a.AppointmentTime, a.InterestLevel, a.AgreementReached,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	return nil
}

// GetAppointment retrieves one appointment.
func (r *Repository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var a Appointment
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.CallID, &a.ContactID, &a.CampaignID, &a.Phone, &a.ClientName,
		&a.AppointmentDate, &a.AppointmentTime, &a.InterestLevel, &a.AgreementReached,
		&a.Status, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}

	return &a, nil
}

// ListAppointments lists appointments, optionally scoped to a campaign.
func (r *Repository) ListAppointments(ctx context.Context, campaignID *uuid.UUID) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE ($1::uuid IS NULL OR campaign_id = $1) ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	var appointments []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.CallID, &a.ContactID, &a.CampaignID, &a.Phone, &a.ClientName,
			&a.AppointmentDate, &a.AppointmentTime, &a.InterestLevel, &a.AgreementReached,
			&a.Status, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, a)
	}

	return appointments, rows.Err()
}

// UpdateAppointmentStatus changes an appointment's status.
func (r *Repository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}

	return nil
}

// UpdateAppointment reschedules an appointment.
func (r *Repository) UpdateAppointment(ctx context.Context, id uuid.UUID, date, timeOfDay, interestLevel *string) error {
	query := `UPDATE appointments SET
		appointment_date = COALESCE($2, appointment_date),
		appointment_time = COALESCE($3, appointment_time),
		interest_level = COALESCE($4, interest_level),
		updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, date, timeOfDay, interestLevel)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}

	return nil
}

// DeleteAppointment removes an appointment.
func (r *Repository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}

	return nil
}
