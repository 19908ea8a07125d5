package voice

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/internal/scheduler"
	"outreach_backend/platform/logger"
)

// Analyzer derives the outcome of a finished call from its transcript.
type Analyzer struct {
	intents   IntentAnalyzer
	store     CallStore
	reminders scheduler.ReminderScheduler
	log       *logger.Logger
}

// NewAnalyzer creates the post-call analyzer. reminders may be nil when
// no task queue is configured; appointments are then created without a
// WhatsApp reminder.
func NewAnalyzer(intents IntentAnalyzer, store CallStore, reminders scheduler.ReminderScheduler, log *logger.Logger) *Analyzer {
	return &Analyzer{intents: intents, store: store, reminders: reminders, log: log}
}

// Analyze classifies the call transcript, creates an appointment when
// the customer committed to one and records the contact's interest
// level. Failures are logged only; a failed analysis leaves the call and
// contact in their terminal state.
func (a *Analyzer) Analyze(ctx context.Context, callID uuid.UUID, contact *repository.Contact, history []ai.ChatMessage) {
	if len(history) == 0 {
		return
	}
	log := a.log.WithCall(callID.String())

	intent, err := a.intents.CallIntent(ctx, history)
	if err != nil {
		log.ProviderError("openai", "call intent analysis", err)
		return
	}

	if intent.WantsAppointment || intent.Agreement ||
		(intent.AppointmentDate != "" && intent.AppointmentTime != "") {
		appointment := &repository.Appointment{
			ID:               uuid.New(),
			CallID:           &callID,
			ContactID:        &contact.ID,
			CampaignID:       &contact.CampaignID,
			Phone:            contact.Phone,
			ClientName:       contact.Name,
			AgreementReached: intent.Agreement,
		}
		if intent.AppointmentDate != "" {
			appointment.AppointmentDate = &intent.AppointmentDate
		}
		if intent.AppointmentTime != "" {
			appointment.AppointmentTime = &intent.AppointmentTime
		}
		if intent.InterestLevel != "" {
			appointment.InterestLevel = &intent.InterestLevel
		}

		if err := a.store.CreateAppointment(ctx, appointment); err != nil {
			log.DatabaseError("create appointment", err)
		} else {
			log.Info("appointment created",
				"contact", contact.Name,
				"date", intent.AppointmentDate,
				"time", intent.AppointmentTime,
			)
			a.scheduleReminder(ctx, appointment, log)
		}
	}

	// "none" collapses to "low" so a neutral analysis never leaves the
	// contact in the unset state.
	level := intent.InterestLevel
	if level == "" || level == "none" {
		level = "low"
	}
	if err := a.store.SetContactInterest(ctx, contact.ID, level); err != nil {
		log.DatabaseError("set contact interest", err)
	}
}

func (a *Analyzer) scheduleReminder(ctx context.Context, appointment *repository.Appointment, log *logger.Logger) {
	if a.reminders == nil {
		return
	}

	date := ""
	if appointment.AppointmentDate != nil {
		date = *appointment.AppointmentDate
	}
	runAt := reminderRunAt(date, time.Now())

	payload := scheduler.AppointmentReminderPayload{AppointmentID: appointment.ID.String()}
	if err := a.reminders.ScheduleAppointmentReminder(ctx, payload, runAt); err != nil {
		log.Error("failed to schedule appointment reminder", "appointment", appointment.ID, "error", err)
	}
}

var spanishWeekdays = map[string]time.Weekday{
	"domingo":   time.Sunday,
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"miércoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
	"sábado":    time.Saturday,
}

// reminderRunAt resolves when the WhatsApp reminder fires. Appointment
// dates come back from the classifier as free text; when a weekday is
// recognizable the reminder fires a day before the next occurrence of
// that weekday, otherwise a day after the call as a follow-up nudge.
func reminderRunAt(date string, now time.Time) time.Time {
	lowered := strings.ToLower(date)
	for name, weekday := range spanishWeekdays {
		if !strings.Contains(lowered, name) {
			continue
		}

		days := int(weekday-now.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		visit := time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, now.Location()).
			AddDate(0, 0, days)

		runAt := visit.Add(-24 * time.Hour)
		if runAt.Before(now) {
			runAt = now.Add(time.Hour)
		}
		return runAt
	}

	return now.Add(24 * time.Hour)
}
