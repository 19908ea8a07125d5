// Package service implements the conversation lifecycle: per-customer
// data collection stages, the mode gate, and support handoff.
package service

import (
	"context"
	"fmt"
	"strings"

	"outreach_backend/internal/ai"
	"outreach_backend/internal/classifier"
	"outreach_backend/internal/conversation/repository"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/logger"
)

// RecordStore is the persistence surface the lifecycle needs.
type RecordStore interface {
	GetRecord(ctx context.Context, customerID string) (*repository.Record, error)
	CreateRecord(ctx context.Context, customerID string) (*repository.Record, error)
	UpdateStage(ctx context.Context, customerID, stage string) error
	SetName(ctx context.Context, customerID, name string) error
	SetEmail(ctx context.Context, customerID, email string) error
	SetPendingSupport(ctx context.Context, customerID string, pending bool) error
	TouchSession(ctx context.Context, customerID, channelID string) (*repository.Session, error)
	SetMode(ctx context.Context, customerID, mode string) error
	AppendMessage(ctx context.Context, customerID, channelID, role, content string) error
}

// ContextWindow is the rolling message window used as LLM context.
type ContextWindow interface {
	Append(ctx context.Context, customerID, channelID string, msg ai.ChatMessage) error
	Recent(ctx context.Context, customerID, channelID string) ([]ai.ChatMessage, error)
}

// ReplyGenerator produces live chat replies.
type ReplyGenerator interface {
	Complete(ctx context.Context, systemPrompt string, history []ai.ChatMessage, maxTokens int) (string, error)
}

// SupportDetector decides whether the customer is asking for a human.
type SupportDetector interface {
	WantsSupport(ctx context.Context, history []ai.ChatMessage) (bool, error)
}

// AdvisorAssigner picks the advisor a handed-off customer is routed to.
type AdvisorAssigner interface {
	Assign() classifier.Advisor
}

// FollowUpCoordinator reacts to inbound activity and handoffs.
type FollowUpCoordinator interface {
	OnInbound(ctx context.Context, customerID string, history []ai.ChatMessage, lastMessage string)
	StopActive(ctx context.Context, customerID, reason string) error
}

// CatalogSource renders the property inventory block appended to the
// system prompt.
type CatalogSource interface {
	PromptBlock() string
}

const stopReasonHandedOff = "handed off"

// Service drives the conversation lifecycle for the chat channel.
type Service struct {
	store        RecordStore
	window       ContextWindow
	generator    ReplyGenerator
	detector     SupportDetector
	advisors     AdvisorAssigner
	followUps    FollowUpCoordinator
	catalog      CatalogSource
	systemPrompt string
	log          *logger.Logger
}

// New creates the lifecycle service. An empty systemPrompt falls back to
// the built-in sales prompt.
func New(
	store RecordStore,
	window ContextWindow,
	generator ReplyGenerator,
	detector SupportDetector,
	advisors AdvisorAssigner,
	followUps FollowUpCoordinator,
	catalog CatalogSource,
	systemPrompt string,
	log *logger.Logger,
) *Service {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &Service{
		store:        store,
		window:       window,
		generator:    generator,
		detector:     detector,
		advisors:     advisors,
		followUps:    followUps,
		catalog:      catalog,
		systemPrompt: systemPrompt,
		log:          log,
	}
}

// HandleInbound processes one inbound chat message and returns the reply
// to send, or "" when automation is suppressed.
func (s *Service) HandleInbound(ctx context.Context, customerID, channelID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	rec, err := s.store.GetRecord(ctx, customerID)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return "", err
		}
		rec, err = s.store.CreateRecord(ctx, customerID)
		if err != nil {
			return "", err
		}
	}

	sess, err := s.store.TouchSession(ctx, customerID, channelID)
	if err != nil {
		return "", err
	}

	// Human and support modes suppress automation, but the message is
	// still recorded for the advisor picking up the thread.
	if sess.Mode != repository.ModeBot {
		s.appendTurn(ctx, customerID, channelID, ai.RoleUser, text)
		s.log.Info("auto-reply suppressed", "customer_id", customerID, "mode", sess.Mode)
		return "", nil
	}

	// Re-engagement bookkeeping runs before reply generation so an
	// explicit opt-out stops nudges even when generation fails.
	history, err := s.window.Recent(ctx, customerID, channelID)
	if err != nil {
		s.log.Error("context window read failed", "customer_id", customerID, "error", err)
		history = nil
	}
	s.followUps.OnInbound(ctx, customerID, history, text)

	switch rec.DataStage {
	case repository.StageNone:
		return s.welcome(ctx, customerID, channelID, text)

	case repository.StageWaitingNameAfterInterest:
		if isAffirmative(text) {
			s.appendTurn(ctx, customerID, channelID, ai.RoleUser, text)
			if err := s.store.UpdateStage(ctx, customerID, repository.StageWaitingName); err != nil {
				return "", err
			}
			return s.reply(ctx, customerID, channelID, msgAskName)
		}
		// Not an affirmative: answer normally without advancing.

	case repository.StageWaitingName, repository.StageNamePending:
		return s.collectName(ctx, rec, channelID, text)

	case repository.StageEmailPendingForSupport:
		return s.collectEmail(ctx, rec, channelID, text)
	}

	// A spontaneous email once the name is known is captured outright.
	if stageRank(rec.DataStage) >= stageRank(repository.StageNameCollected) && isValidEmail(text) {
		return s.captureEmail(ctx, rec, channelID, strings.ToLower(text))
	}

	return s.generateReply(ctx, rec, channelID, text)
}

// welcome greets a brand-new customer. A bare greeting gets the interest
// question first; anything more substantive goes straight to the name
// request.
func (s *Service) welcome(ctx context.Context, customerID, channelID, text string) (string, error) {
	s.appendTurn(ctx, customerID, channelID, ai.RoleUser, text)

	next := repository.StageWaitingName
	prompt := msgWelcome
	if isBareGreeting(text) {
		next = repository.StageWaitingNameAfterInterest
		prompt = msgWelcomeInterest
	}

	if err := s.store.UpdateStage(ctx, customerID, next); err != nil {
		return "", err
	}

	return s.reply(ctx, customerID, channelID, prompt)
}

func (s *Service) collectName(ctx context.Context, rec *repository.Record, channelID, text string) (string, error) {
	s.appendTurn(ctx, rec.CustomerID, channelID, ai.RoleUser, text)

	// An email given before the name is stored, but handoff still
	// requires the pending-support flag, so only the name re-prompt goes
	// out.
	if isValidEmail(text) {
		if err := s.store.SetEmail(ctx, rec.CustomerID, strings.ToLower(text)); err != nil {
			return "", err
		}
		return s.reply(ctx, rec.CustomerID, channelID, msgNameReprompt)
	}

	if !isValidName(text) {
		return s.reply(ctx, rec.CustomerID, channelID, msgNameReprompt)
	}

	name := capitalizeName(text)
	if err := s.store.SetName(ctx, rec.CustomerID, name); err != nil {
		return "", err
	}

	return s.reply(ctx, rec.CustomerID, channelID, msgNameConfirmed)
}

func (s *Service) collectEmail(ctx context.Context, rec *repository.Record, channelID, text string) (string, error) {
	s.appendTurn(ctx, rec.CustomerID, channelID, ai.RoleUser, text)

	email := strings.ToLower(strings.TrimSpace(text))
	if !isValidEmail(email) {
		return s.reply(ctx, rec.CustomerID, channelID, msgEmailReprompt)
	}

	if err := s.store.SetEmail(ctx, rec.CustomerID, email); err != nil {
		return "", err
	}
	if err := s.store.UpdateStage(ctx, rec.CustomerID, repository.StageComplete); err != nil {
		return "", err
	}

	if rec.PendingSupportActivation {
		confirmation := fmt.Sprintf(msgEmailHandoff, displayName(rec), email)
		return s.handoff(ctx, rec.CustomerID, channelID, confirmation)
	}

	return s.reply(ctx, rec.CustomerID, channelID, fmt.Sprintf(msgEmailThanks, displayName(rec), email))
}

// captureEmail stores a spontaneously provided email. With a pending
// support activation this completes the handoff directly.
func (s *Service) captureEmail(ctx context.Context, rec *repository.Record, channelID, email string) (string, error) {
	s.appendTurn(ctx, rec.CustomerID, channelID, ai.RoleUser, email)

	if err := s.store.SetEmail(ctx, rec.CustomerID, email); err != nil {
		return "", err
	}

	if rec.PendingSupportActivation {
		if err := s.store.UpdateStage(ctx, rec.CustomerID, repository.StageComplete); err != nil {
			return "", err
		}
		confirmation := fmt.Sprintf(msgEmailHandoff, displayName(rec), email)
		return s.handoff(ctx, rec.CustomerID, channelID, confirmation)
	}

	return s.reply(ctx, rec.CustomerID, channelID, fmt.Sprintf(msgEmailThanks, displayName(rec), email))
}

// handoff flips the customer to support mode, stops follow-ups and names
// the assigned advisor in the confirmation.
func (s *Service) handoff(ctx context.Context, customerID, channelID, confirmation string) (string, error) {
	if err := s.store.SetPendingSupport(ctx, customerID, false); err != nil {
		return "", err
	}
	if err := s.store.SetMode(ctx, customerID, repository.ModeSupport); err != nil {
		return "", err
	}
	if err := s.followUps.StopActive(ctx, customerID, stopReasonHandedOff); err != nil {
		s.log.Error("stop follow-up on handoff failed", "customer_id", customerID, "error", err)
	}

	advisor := s.advisors.Assign()
	confirmation += fmt.Sprintf(msgAdvisorBlock, advisor.Name)

	s.log.Info("support mode activated", "customer_id", customerID, "advisor", advisor.Name)

	return s.reply(ctx, customerID, channelID, confirmation)
}

// generateReply answers through the chat model and then runs the
// dedicated support-intent classification on the updated context.
func (s *Service) generateReply(ctx context.Context, rec *repository.Record, channelID, text string) (string, error) {
	s.appendTurn(ctx, rec.CustomerID, channelID, ai.RoleUser, text)

	history, err := s.window.Recent(ctx, rec.CustomerID, channelID)
	if err != nil {
		s.log.Error("context window read failed", "customer_id", rec.CustomerID, "error", err)
		history = []ai.ChatMessage{{Role: ai.RoleUser, Content: text}}
	}

	system := s.systemPrompt
	if block := s.catalog.PromptBlock(); block != "" {
		system += "\n\n" + block
	}

	generated, err := s.generator.Complete(ctx, system, history, 1000)
	if err != nil {
		s.log.ProviderError("openai", "chat_reply", err)
		return s.reply(ctx, rec.CustomerID, channelID, msgGenericError)
	}

	wantsSupport, err := s.detector.WantsSupport(ctx, append(history, ai.ChatMessage{Role: ai.RoleAssistant, Content: generated}))
	if err != nil {
		s.log.ProviderError("openai", "support_intent", err)
		wantsSupport = false
	}

	if wantsSupport {
		if rec.Email == nil || *rec.Email == "" {
			if err := s.store.SetPendingSupport(ctx, rec.CustomerID, true); err != nil {
				return "", err
			}
			if err := s.store.UpdateStage(ctx, rec.CustomerID, repository.StageEmailPendingForSupport); err != nil {
				return "", err
			}
			return s.reply(ctx, rec.CustomerID, channelID, generated+"\n\n"+msgEmailRequest)
		}

		return s.handoff(ctx, rec.CustomerID, channelID, generated)
	}

	return s.reply(ctx, rec.CustomerID, channelID, generated)
}

// SetMode changes the handling mode. Leaving bot mode stops any active
// follow-up for the customer.
func (s *Service) SetMode(ctx context.Context, customerID, mode string) error {
	switch mode {
	case repository.ModeBot, repository.ModeHuman, repository.ModeSupport:
	default:
		return apperr.Validation(fmt.Sprintf("invalid mode %q", mode))
	}

	if err := s.store.SetMode(ctx, customerID, mode); err != nil {
		return err
	}

	if mode != repository.ModeBot {
		if err := s.followUps.StopActive(ctx, customerID, stopReasonHandedOff); err != nil {
			s.log.Error("stop follow-up on mode change failed", "customer_id", customerID, "error", err)
		}
	}

	return nil
}

// RecordOutbound appends a bot-initiated message (e.g. a follow-up nudge)
// to the session history.
func (s *Service) RecordOutbound(ctx context.Context, customerID, channelID, text string) {
	if _, err := s.store.TouchSession(ctx, customerID, channelID); err != nil {
		s.log.DatabaseError("touch session", err)
	}
	s.appendTurn(ctx, customerID, channelID, ai.RoleAssistant, text)
}

// reply appends the assistant turn and hands the text back to the caller.
func (s *Service) reply(ctx context.Context, customerID, channelID, text string) (string, error) {
	s.appendTurn(ctx, customerID, channelID, ai.RoleAssistant, text)
	return text, nil
}

func (s *Service) appendTurn(ctx context.Context, customerID, channelID, role, content string) {
	if err := s.store.AppendMessage(ctx, customerID, channelID, role, content); err != nil {
		s.log.DatabaseError("append message", err)
	}
	if err := s.window.Append(ctx, customerID, channelID, ai.ChatMessage{Role: role, Content: content}); err != nil {
		s.log.Error("context window append failed", "customer_id", customerID, "error", err)
	}
}

func displayName(rec *repository.Record) string {
	if rec.Name != nil && *rec.Name != "" {
		return *rec.Name
	}
	return "amigo"
}

func stageRank(stage string) int {
	switch stage {
	case repository.StageNone:
		return 0
	case repository.StageNamePending, repository.StageWaitingName, repository.StageWaitingNameAfterInterest:
		return 1
	case repository.StageNameCollected:
		return 2
	case repository.StageEmailPendingForSupport:
		return 3
	case repository.StageComplete:
		return 4
	}
	return 0
}
