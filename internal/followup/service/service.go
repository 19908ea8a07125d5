// Package service implements the follow-up scheduler: deciding when to
// re-engage a silent customer and when to stop for good.
package service

import (
	"context"
	"strings"
	"time"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/classifier"
	"outreach_backend/internal/conversation/repository"
	followups "outreach_backend/internal/followup/repository"
	"outreach_backend/platform/logger"
)

// Stop reasons written to the follow-up record for audit.
const (
	ReasonMaxAttempts      = "max_attempts"
	ReasonBecameActive     = "volvio_activo"
	ReasonKeywordRejection = "rechazo_inmediato_keyword"
)

// FollowUpStore is the persistence surface of the scheduler.
type FollowUpStore interface {
	CreateIfAbsent(ctx context.Context, customerID string, sinceActivity time.Time) (bool, error)
	Active(ctx context.Context, customerID string) (*followups.Record, error)
	StopActive(ctx context.Context, customerID, reason string) (bool, error)
	DueForNudge(ctx context.Context, interval time.Duration) ([]followups.Record, error)
	MarkNudged(ctx context.Context, id int64) (int, error)
	StopByID(ctx context.Context, id int64, reason string) error
}

// SessionSource yields the stale bot-mode sessions rule 1 scans.
type SessionSource interface {
	StaleSessions(ctx context.Context, threshold time.Duration) ([]repository.Session, error)
	AppendMessage(ctx context.Context, customerID, channelID, role, content string) error
}

// MessageSender delivers nudges through the chat channel.
type MessageSender interface {
	SendMessage(ctx context.Context, phoneNumber, text string) error
}

// StatusOracle classifies the conversation state on re-engagement.
type StatusOracle interface {
	ConversationStatus(ctx context.Context, history []ai.ChatMessage, lastMessage string) classifier.Status
}

// Config carries the scheduler's timing knobs.
type Config interface {
	GetFollowUpInterval() time.Duration
	GetMaxFollowUps() int
	GetSessionTimeout() time.Duration
}

// Service owns the follow-up lifecycle for all customers.
type Service struct {
	store     FollowUpStore
	sessions  SessionSource
	sender    MessageSender
	oracle    StatusOracle
	channelID string
	interval  time.Duration
	maxNudges int
	staleness time.Duration
	log       *logger.Logger
}

// New creates the scheduler service. channelID names the chat channel
// nudges go out on.
func New(store FollowUpStore, sessions SessionSource, sender MessageSender, oracle StatusOracle, cfg Config, channelID string, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		sessions:  sessions,
		sender:    sender,
		oracle:    oracle,
		channelID: channelID,
		interval:  cfg.GetFollowUpInterval(),
		maxNudges: cfg.GetMaxFollowUps(),
		staleness: cfg.GetSessionTimeout(),
		log:       log,
	}
}

// Tick runs one scheduler pass: open follow-ups for newly stale sessions,
// then send due nudges.
func (s *Service) Tick(ctx context.Context) {
	s.openForStaleSessions(ctx)
	s.sendDueNudges(ctx)
}

func (s *Service) openForStaleSessions(ctx context.Context) {
	stale, err := s.sessions.StaleSessions(ctx, s.staleness)
	if err != nil {
		s.log.DatabaseError("list stale sessions", err)
		return
	}

	for _, sess := range stale {
		created, err := s.store.CreateIfAbsent(ctx, sess.CustomerID, sess.LastActivity)
		if err != nil {
			s.log.DatabaseError("create follow-up", err)
			continue
		}
		if created {
			s.log.Info("follow-up started", "customer_id", sess.CustomerID)
		}
	}
}

func (s *Service) sendDueNudges(ctx context.Context) {
	due, err := s.store.DueForNudge(ctx, s.interval)
	if err != nil {
		s.log.DatabaseError("list due follow-ups", err)
		return
	}

	for _, rec := range due {
		s.nudge(ctx, rec)
	}
}

func (s *Service) nudge(ctx context.Context, rec followups.Record) {
	text := nudgeText(rec.FollowUpCount)

	if err := s.sender.SendMessage(ctx, rec.CustomerID, text); err != nil {
		s.log.Error("nudge send failed", "customer_id", rec.CustomerID, "error", err)
		return
	}

	// The nudge is appended to the history for audit but deliberately
	// does not refresh last_activity: only the customer counts as
	// activity, otherwise a nudge would reset its own staleness clock.
	if err := s.sessions.AppendMessage(ctx, rec.CustomerID, s.channelID, ai.RoleAssistant, text); err != nil {
		s.log.DatabaseError("append nudge message", err)
	}

	count, err := s.store.MarkNudged(ctx, rec.ID)
	if err != nil {
		s.log.DatabaseError("mark follow-up nudged", err)
		return
	}
	if count < 0 {
		// Stopped between listing and nudging; nothing left to do.
		return
	}

	s.log.Info("nudge sent", "customer_id", rec.CustomerID, "count", count)

	if count >= s.maxNudges {
		if err := s.store.StopByID(ctx, rec.ID, ReasonMaxAttempts); err != nil {
			s.log.DatabaseError("stop follow-up at cap", err)
			return
		}
		s.log.Info("follow-up stopped", "customer_id", rec.CustomerID, "reason", ReasonMaxAttempts)
	}
}

// OnInbound reacts to a customer message while a follow-up is active. An
// explicit opt-out stops the record immediately; otherwise the status
// oracle decides.
func (s *Service) OnInbound(ctx context.Context, customerID string, history []ai.ChatMessage, lastMessage string) {
	active, err := s.store.Active(ctx, customerID)
	if err != nil {
		s.log.DatabaseError("get active follow-up", err)
		return
	}
	if active == nil {
		return
	}

	// The keyword fast path runs before the classifier: continuing to
	// contact an opted-out customer costs more than a false positive.
	if matchesRejection(lastMessage) {
		s.stop(ctx, customerID, ReasonKeywordRejection)
		return
	}

	switch s.oracle.ConversationStatus(ctx, history, lastMessage) {
	case classifier.StatusAceptado:
		s.stop(ctx, customerID, "aceptado")
	case classifier.StatusRechazado:
		s.stop(ctx, customerID, "rechazado")
	case classifier.StatusFrustrado:
		s.stop(ctx, customerID, "frustrado")
	case classifier.StatusActivo:
		// The customer is back. A fresh record is only opened by the
		// tick after the next inactivity period.
		s.stop(ctx, customerID, ReasonBecameActive)
	case classifier.StatusInactivo:
		// No clear signal: leave the record running.
	}
}

// StopActive stops the customer's active follow-up record, if any.
func (s *Service) StopActive(ctx context.Context, customerID, reason string) error {
	_, err := s.store.StopActive(ctx, customerID, reason)
	return err
}

func (s *Service) stop(ctx context.Context, customerID, reason string) {
	stopped, err := s.store.StopActive(ctx, customerID, reason)
	if err != nil {
		s.log.DatabaseError("stop follow-up", err)
		return
	}
	if stopped {
		s.log.Info("follow-up stopped", "customer_id", customerID, "reason", reason)
	}
}

var rejectionPhrases = []string{
	"ya no me contacten",
	"no me contacten",
	"ya no me escriban",
	"no me escriban",
	"dejen de mandarme mensajes",
	"dejen de escribirme",
	"dejen de molestar",
	"no me molesten",
	"no me interesa",
	"no estoy interesado",
	"ya estuvo",
	"parenle",
	"párenle",
	"basta",
}

func matchesRejection(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range rejectionPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

var nudgeMessages = []string{
	"¡Hola! 👋 Hace un momento platicábamos sobre nuestros terrenos industriales. ¿Sigues interesado? Con gusto resuelvo cualquier duda.",
	"Hola de nuevo 🙂 No quiero insistir de más, solo recordarte que tenemos terrenos con excelente plusvalía y planes de financiamiento. ¿Te gustaría retomar la conversación?",
	"¡Hola! Este es mi último recordatorio. Si en algún momento te interesa conocer más sobre nuestros terrenos, aquí estaré para ayudarte. ¡Excelente día! 🙌",
}

// nudgeText picks the message for the (count+1)-th nudge.
func nudgeText(count int) string {
	if count >= len(nudgeMessages) {
		count = len(nudgeMessages) - 1
	}
	return nudgeMessages[count]
}
