// Package classifier provides the conversation-status and call-intent
// oracles. Intent signaling is a dedicated classification call returning
// typed results, never a sentinel token embedded in generated text.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"outreach_backend/internal/ai"
	"outreach_backend/platform/logger"
)

// Status is the coarse engagement state of a chat conversation.
type Status string

// Conversation statuses, in the classifier's own vocabulary.
const (
	StatusActivo    Status = "ACTIVO"
	StatusAceptado  Status = "ACEPTADO"
	StatusRechazado Status = "RECHAZADO"
	StatusFrustrado Status = "FRUSTRADO"
	StatusInactivo  Status = "INACTIVO"
)

// Intent is the structured outcome derived from a finished call transcript.
type Intent struct {
	Interest        bool   `json:"interest"`
	Agreement       bool   `json:"agreement"`
	WantsAppointment bool  `json:"wantsAppointment"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	InterestLevel   string `json:"interestLevel"`
	ClientResponse  string `json:"clientResponse"`
}

type completionAPI interface {
	Complete(ctx context.Context, systemPrompt string, history []ai.ChatMessage, maxTokens int) (string, error)
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Classifier maps transcripts to statuses and structured intents.
type Classifier struct {
	api completionAPI
	log *logger.Logger
}

// New creates a Classifier backed by the given completion API.
func New(api completionAPI, log *logger.Logger) *Classifier {
	return &Classifier{api: api, log: log}
}

// ConversationStatus classifies the engagement state of a chat conversation.
// On provider failure it returns INACTIVO: when in doubt, do not contact.
func (c *Classifier) ConversationStatus(ctx context.Context, history []ai.ChatMessage, lastMessage string) Status {
	messages := make([]ai.ChatMessage, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ai.ChatMessage{
		Role:    ai.RoleUser,
		Content: fmt.Sprintf("Último mensaje del cliente: %q\n\nAnaliza el estado de la conversación.", lastMessage),
	})

	resp, err := c.api.Complete(ctx, statusPrompt, messages, 10)
	if err != nil {
		c.log.ProviderError("openai", "conversation_status", err)
		return StatusInactivo
	}

	return ParseStatus(resp)
}

// ParseStatus normalizes a raw classifier reply to a known Status,
// defaulting to INACTIVO on anything unrecognized.
func ParseStatus(raw string) Status {
	normalized := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch normalized {
	case StatusActivo, StatusAceptado, StatusRechazado, StatusFrustrado, StatusInactivo:
		return normalized
	}

	// Some models answer with a short sentence; look for the keyword.
	upper := strings.ToUpper(raw)
	for _, s := range []Status{StatusAceptado, StatusRechazado, StatusFrustrado, StatusActivo, StatusInactivo} {
		if strings.Contains(upper, string(s)) {
			return s
		}
	}

	return StatusInactivo
}

// WantsSupport reports whether the customer is asking to be handed to a
// human advisor.
func (c *Classifier) WantsSupport(ctx context.Context, history []ai.ChatMessage) (bool, error) {
	resp, err := c.api.Complete(ctx, supportPrompt, history, 5)
	if err != nil {
		return false, fmt.Errorf("support classification: %w", err)
	}

	return strings.Contains(strings.ToUpper(resp), "SI"), nil
}

// CallIntent derives a structured outcome from a finished call transcript.
func (c *Classifier) CallIntent(ctx context.Context, turns []ai.ChatMessage) (Intent, error) {
	var b strings.Builder
	for _, t := range turns {
		speaker := "ASESOR"
		if t.Role == ai.RoleUser {
			speaker = "CLIENTE"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Content)
	}

	userPrompt := fmt.Sprintf(`Analiza esta conversacion telefonica y detecta si se agendo una cita.

FECHA DE HOY: %s

CONVERSACION:
%s
Responde SOLO en JSON:
{
  "interest": true/false,
  "agreement": true/false,
  "wantsAppointment": true/false,
  "appointmentDate": "YYYY-MM-DD o null",
  "appointmentTime": "HH:MM o null",
  "interestLevel": "high/medium/low/none",
  "clientResponse": "positivo/negativo/indeciso"
}`, time.Now().Format("2006-01-02"), b.String())

	resp, err := c.api.CompleteJSON(ctx, "Analizador de conversaciones de ventas inmobiliarias. Responde solo en JSON valido.", userPrompt)
	if err != nil {
		return Intent{}, fmt.Errorf("call intent: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(resp), &intent); err != nil {
		return Intent{}, fmt.Errorf("call intent: decode %q: %w", resp, err)
	}

	intent.AppointmentDate = nullToEmpty(intent.AppointmentDate)
	intent.AppointmentTime = nullToEmpty(intent.AppointmentTime)

	return intent, nil
}

func nullToEmpty(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), "null") {
		return ""
	}
	return strings.TrimSpace(value)
}
