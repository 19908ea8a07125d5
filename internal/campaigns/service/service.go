// Package service implements campaign management: CSV import, lifecycle
// control and reporting over calls and appointments.
package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/phone"
)

// Store is the repository surface the service needs.
type Store interface {
	CreateCampaign(ctx context.Context, campaign *repository.Campaign, contacts []repository.Contact) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*repository.Campaign, error)
	ListCampaigns(ctx context.Context) ([]repository.Campaign, error)
	SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error
	DeleteCampaign(ctx context.Context, id uuid.UUID) error
	RefreshCampaignStats(ctx context.Context, id uuid.UUID) error
	ListCampaignCalls(ctx context.Context, campaignID uuid.UUID) ([]repository.Call, error)
	GetTranscript(ctx context.Context, callID uuid.UUID) ([]repository.Turn, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*repository.Appointment, error)
	ListAppointments(ctx context.Context, campaignID *uuid.UUID) ([]repository.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateAppointment(ctx context.Context, id uuid.UUID, date, timeOfDay, interestLevel *string) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

// Dispatcher is the part of the call dispatcher the campaign lifecycle
// needs to poke when campaigns start, pause or stop.
type Dispatcher interface {
	Wake()
	AbortCampaign(campaignID uuid.UUID)
}

// Service manages outbound call campaigns.
type Service struct {
	store      Store
	dispatcher Dispatcher
	log        *logger.Logger
}

// New creates a new campaigns service.
func New(store Store, dispatcher Dispatcher, log *logger.Logger) *Service {
	return &Service{store: store, dispatcher: dispatcher, log: log}
}

// CreateFromCSV parses a contact CSV and creates a pending campaign from
// it. Rows without a usable phone number are skipped.
func (s *Service) CreateFromCSV(ctx context.Context, name, filename string, csvData io.Reader) (*repository.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validation("campaign name is required")
	}

	contacts, skipped, err := parseContacts(csvData)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, apperr.Validation("CSV contains no contacts with a phone number")
	}

	campaign := &repository.Campaign{
		ID:   uuid.New(),
		Name: strings.TrimSpace(name),
	}
	if filename != "" {
		campaign.CSVFilename = &filename
	}

	if err := s.store.CreateCampaign(ctx, campaign, contacts); err != nil {
		return nil, err
	}

	s.log.Info("campaign created",
		"campaign_id", campaign.ID,
		"name", campaign.Name,
		"contacts", len(contacts),
		"skipped_rows", skipped,
	)

	return s.store.GetCampaign(ctx, campaign.ID)
}

// Get retrieves one campaign.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*repository.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// List lists all campaigns.
func (s *Service) List(ctx context.Context) ([]repository.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// Start moves a pending or paused campaign to running and wakes the
// dispatcher so it picks up the campaign's contacts.
func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case repository.CampaignPending, repository.CampaignPaused:
	case repository.CampaignRunning:
		return apperr.Conflict("campaign is already running")
	default:
		return apperr.Conflict(fmt.Sprintf("campaign cannot be started from status %q", campaign.Status))
	}

	if err := s.store.SetCampaignStatus(ctx, id, repository.CampaignRunning); err != nil {
		return err
	}

	s.log.Info("campaign started", "campaign_id", id, "name", campaign.Name)
	s.dispatcher.Wake()

	return nil
}

// Pause stops dispatching new calls for a campaign. Calls already in
// progress run to completion.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != repository.CampaignRunning {
		return apperr.Conflict("only a running campaign can be paused")
	}

	if err := s.store.SetCampaignStatus(ctx, id, repository.CampaignPaused); err != nil {
		return err
	}

	s.log.Info("campaign paused", "campaign_id", id)

	return nil
}

// Stop cancels a campaign and asks the dispatcher to wind down its
// active calls.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case repository.CampaignCompleted, repository.CampaignCancelled:
		return apperr.Conflict("campaign is already finished")
	}

	if err := s.store.SetCampaignStatus(ctx, id, repository.CampaignCancelled); err != nil {
		return err
	}

	s.dispatcher.AbortCampaign(id)
	s.log.Info("campaign stopped", "campaign_id", id)

	return nil
}

// Delete removes a finished campaign. Running campaigns must be stopped
// first so active calls are not orphaned.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == repository.CampaignRunning {
		return apperr.Conflict("stop the campaign before deleting it")
	}

	if err := s.store.DeleteCampaign(ctx, id); err != nil {
		return err
	}

	s.log.Info("campaign deleted", "campaign_id", id)

	return nil
}

// Stats returns the campaign with its counters freshly recomputed.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*repository.Campaign, error) {
	if err := s.store.RefreshCampaignStats(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetCampaign(ctx, id)
}

// Calls lists the calls of a campaign.
func (s *Service) Calls(ctx context.Context, campaignID uuid.UUID) ([]repository.Call, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListCampaignCalls(ctx, campaignID)
}

// Transcript returns the full transcript of a call.
func (s *Service) Transcript(ctx context.Context, callID uuid.UUID) ([]repository.Turn, error) {
	return s.store.GetTranscript(ctx, callID)
}

// Appointments lists appointments, optionally scoped to a campaign.
func (s *Service) Appointments(ctx context.Context, campaignID *uuid.UUID) ([]repository.Appointment, error) {
	return s.store.ListAppointments(ctx, campaignID)
}

// Appointment statuses accepted by UpdateAppointmentStatus.
var appointmentStatuses = map[string]bool{
	"scheduled": true,
	"confirmed": true,
	"completed": true,
	"cancelled": true,
	"no_show":   true,
}

// UpdateAppointmentStatus changes an appointment's status.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !appointmentStatuses[status] {
		return apperr.Validation(fmt.Sprintf("invalid appointment status %q", status))
	}
	return s.store.UpdateAppointmentStatus(ctx, id, status)
}

// UpdateAppointment reschedules an appointment.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, date, timeOfDay, interestLevel *string) error {
	if date == nil && timeOfDay == nil && interestLevel == nil {
		return apperr.Validation("nothing to update")
	}
	return s.store.UpdateAppointment(ctx, id, date, timeOfDay, interestLevel)
}

// DeleteAppointment removes an appointment.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteAppointment(ctx, id)
}

// Column aliases accepted in contact CSVs. Header matching is
// case-insensitive and accent-insensitive.
var csvAliases = map[string]string{
	"phone":           "phone",
	"telefono":        "phone",
	"numero":          "phone",
	"celular":         "phone",
	"name":            "name",
	"nombre":          "name",
	"cliente":         "name",
	"tipo":            "type",
	"tipo de terreno": "type",
	"type":            "type",
	"ubicacion":       "location",
	"location":        "location",
	"zona":            "location",
	"tamano":          "size",
	"tamano (m2)":     "size",
	"size":            "size",
	"precio":          "price",
	"precio (mxn)":    "price",
	"price":           "price",
	"notas":           "extra",
	"info adicional":  "extra",
	"notes":           "extra",
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n", "ü", "u",
)

func canonicalHeader(h string) string {
	return csvAliases[accentReplacer.Replace(strings.ToLower(strings.TrimSpace(h)))]
}

// parseContacts reads a contact CSV, mapping flexible Spanish and
// English column names onto contact fields. Returns the parsed contacts
// and how many rows were skipped for lacking a phone number.
func parseContacts(r io.Reader) ([]repository.Contact, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, apperr.Validation("CSV is empty or unreadable")
	}

	fields := make(map[string]int)
	for i, h := range header {
		if key := canonicalHeader(h); key != "" {
			fields[key] = i
		}
	}
	if _, ok := fields["phone"]; !ok {
		return nil, 0, apperr.Validation("CSV has no phone column (expected phone, telefono, numero or celular)")
	}

	cell := func(row []string, key string) string {
		i, ok := fields[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	optional := func(row []string, key string) *string {
		if v := cell(row, key); v != "" {
			return &v
		}
		return nil
	}

	var contacts []repository.Contact
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, apperr.Validation(fmt.Sprintf("malformed CSV row: %v", err))
		}

		raw := cell(row, "phone")
		if raw == "" || !phone.IsValid(raw) {
			skipped++
			continue
		}

		contacts = append(contacts, repository.Contact{
			ID:               uuid.New(),
			Phone:            phone.NormalizeE164(raw),
			Name:             cell(row, "name"),
			PropertyType:     optional(row, "type"),
			PropertyLocation: optional(row, "location"),
			PropertySize:     optional(row, "size"),
			PropertyPrice:    optional(row, "price"),
			ExtraInfo:        optional(row, "extra"),
		})
	}

	return contacts, skipped, nil
}
