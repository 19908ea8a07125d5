package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach_backend/internal/campaigns/repository"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
)

// Sender delivers a WhatsApp text message.
type Sender interface {
	SendMessage(ctx context.Context, phoneNumber, text string) error
}

type appointmentStore interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*repository.Appointment, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	store  appointmentStore
	sender Sender
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, sender Sender, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		store:  repository.New(pool),
		sender: sender,
		log:    log,
	}

	mux.HandleFunc(TaskAppointmentReminder, w.handleAppointmentReminder)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleAppointmentReminder sends the visit reminder. Appointments that
// were cancelled or deleted since scheduling are skipped silently.
func (w *Worker) handleAppointmentReminder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAppointmentReminderPayload(task)
	if err != nil {
		return err
	}

	apptID, err := uuid.Parse(payload.AppointmentID)
	if err != nil {
		return err
	}

	appt, err := w.store.GetAppointment(ctx, apptID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}

	if appt.Status != "scheduled" && appt.Status != "confirmed" {
		return nil
	}
	if appt.Phone == "" {
		return nil
	}

	if err := w.sender.SendMessage(ctx, appt.Phone, reminderText(appt)); err != nil {
		return fmt.Errorf("send reminder for appointment %s: %w", appt.ID, err)
	}

	w.log.Info("appointment reminder sent", "appointment", appt.ID, "phone", appt.Phone)
	return nil
}

func reminderText(appt *repository.Appointment) string {
	name := strings.TrimSpace(appt.ClientName)
	if name == "" {
		name = "estimado cliente"
	}

	when := ""
	if appt.AppointmentDate != nil && *appt.AppointmentDate != "" {
		when = " " + *appt.AppointmentDate
	}
	if appt.AppointmentTime != nil && *appt.AppointmentTime != "" {
		when += " a las " + *appt.AppointmentTime
	}

	return fmt.Sprintf(
		"Hola %s, le recordamos su visita agendada con PortoBlanco%s. Si necesita reagendar, responda a este mensaje. ¡Le esperamos!",
		name, when,
	)
}
