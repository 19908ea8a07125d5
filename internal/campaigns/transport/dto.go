// Package transport defines the request and response DTOs of the
// campaigns API.
package transport

import (
	"time"

	"github.com/google/uuid"

	"outreach_backend/internal/campaigns/repository"
)

// UpdateAppointmentStatusRequest is the payload for PUT /appointments/:id/status.
type UpdateAppointmentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateAppointmentRequest is the payload for PUT /appointments/:id.
type UpdateAppointmentRequest struct {
	AppointmentDate *string `json:"appointmentDate" validate:"omitempty,min=1"`
	AppointmentTime *string `json:"appointmentTime" validate:"omitempty,min=1"`
	InterestLevel   *string `json:"interestLevel" validate:"omitempty,oneof=none low medium high"`
}

// CampaignResponse is the API representation of a campaign.
type CampaignResponse struct {
	ID                    uuid.UUID  `json:"id"`
	Name                  string     `json:"name"`
	CSVFilename           *string    `json:"csvFilename,omitempty"`
	Status                string     `json:"status"`
	TotalContacts         int        `json:"totalContacts"`
	CallsCompleted        int        `json:"callsCompleted"`
	CallsPending          int        `json:"callsPending"`
	CallsFailed           int        `json:"callsFailed"`
	AppointmentsScheduled int        `json:"appointmentsScheduled"`
	StartedAt             *time.Time `json:"startedAt,omitempty"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// FromCampaign maps a campaign row to its API representation.
func FromCampaign(c *repository.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:                    c.ID,
		Name:                  c.Name,
		CSVFilename:           c.CSVFilename,
		Status:                c.Status,
		TotalContacts:         c.TotalContacts,
		CallsCompleted:        c.CallsCompleted,
		CallsPending:          c.CallsPending,
		CallsFailed:           c.CallsFailed,
		AppointmentsScheduled: c.AppointmentsScheduled,
		StartedAt:             c.StartedAt,
		CompletedAt:           c.CompletedAt,
		CreatedAt:             c.CreatedAt,
	}
}

// FromCampaigns maps a list of campaign rows.
func FromCampaigns(campaigns []repository.Campaign) []CampaignResponse {
	out := make([]CampaignResponse, 0, len(campaigns))
	for i := range campaigns {
		out = append(out, FromCampaign(&campaigns[i]))
	}
	return out
}

// CallResponse is the API representation of a call.
type CallResponse struct {
	ID              uuid.UUID  `json:"id"`
	ContactID       uuid.UUID  `json:"contactId"`
	CampaignID      uuid.UUID  `json:"campaignId"`
	Phone           string     `json:"phone"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
}

// FromCalls maps a list of call rows.
func FromCalls(calls []repository.Call) []CallResponse {
	out := make([]CallResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, CallResponse{
			ID:              c.ID,
			ContactID:       c.ContactID,
			CampaignID:      c.CampaignID,
			Phone:           c.Phone,
			Status:          c.Status,
			StartedAt:       c.StartedAt,
			EndedAt:         c.EndedAt,
			DurationSeconds: c.DurationSeconds,
		})
	}
	return out
}

// TurnResponse is one transcript entry.
type TurnResponse struct {
	Sequence  int       `json:"sequence"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromTurns maps a transcript.
func FromTurns(turns []repository.Turn) []TurnResponse {
	out := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnResponse{
			Sequence:  t.Sequence,
			Speaker:   t.Speaker,
			Content:   t.Content,
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}

// AppointmentResponse is the API representation of an appointment.
type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	CallID           *uuid.UUID `json:"callId,omitempty"`
	CampaignID       *uuid.UUID `json:"campaignId,omitempty"`
	Phone            string     `json:"phone"`
	ClientName       string     `json:"clientName"`
	AppointmentDate  *string    `json:"appointmentDate,omitempty"`
	AppointmentTime  *string    `json:"appointmentTime,omitempty"`
	InterestLevel    *string    `json:"interestLevel,omitempty"`
	AgreementReached bool       `json:"agreementReached"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// FromAppointment maps an appointment row to its API representation.
func FromAppointment(a *repository.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		CallID:           a.CallID,
		CampaignID:       a.CampaignID,
		Phone:            a.Phone,
		ClientName:       a.ClientName,
		AppointmentDate:  a.AppointmentDate,
		AppointmentTime:  a.AppointmentTime,
		InterestLevel:    a.InterestLevel,
		AgreementReached: a.AgreementReached,
		Status:           a.Status,
		CreatedAt:        a.CreatedAt,
	}
}

// FromAppointments maps a list of appointment rows.
func FromAppointments(appointments []repository.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appointments))
	for i := range appointments {
		out = append(out, FromAppointment(&appointments[i]))
	}
	return out
}

// SystemStatus is the live dispatcher snapshot served at GET /status.
type SystemStatus struct {
	ActiveCallsCount   int         `json:"activeCallsCount"`
	MaxConcurrentCalls int         `json:"maxConcurrentCalls"`
	TelephonyConnected bool        `json:"telephonyConnected"`
	ActiveCampaigns    []uuid.UUID `json:"activeCampaigns"`
}
